// Package session runs the two ends of a transfer over a transport.
//
// A Provider accepts connections and serves each one in its own goroutine:
// read the greeting, send the payload, wait for the peer to close. A Fetcher
// connects using a ticket, greets, drains the payload and reports throughput.
package session

// Package i6p measures point-to-point bulk transfer throughput over QUIC.
//
// A provider binds an endpoint, prints a ticket and serves a synthetic payload
// of a fixed size to anyone who connects. A fetcher pastes the ticket,
// connects to the provider's identity, drains the payload and reports bytes,
// time to first byte and rate. Peer wires configuration, the QUIC endpoint and
// the session package together for the command line tools.
package i6p

// Package transfer moves a synthetic payload over a single stream and measures
// how fast it arrives.
//
// The sending side writes fixed 1 MiB chunks of filler; the receiving side
// drains the stream either in order, through a set of reusable buffers, or as
// offset-tagged chunks in whatever order the transport delivers them.
package transfer

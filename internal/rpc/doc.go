// Package rpc implements the framed request/response transport used between
// the master and its workers.
//
// Every message is a length-prefixed frame (4-byte big-endian length, see
// go-msgio) whose payload is a one-byte flag followed by a JSON envelope.
// Envelopes larger than compressThreshold are zstd-compressed and flagged.
//
// A connection carries any number of concurrent requests; responses are
// matched to requests by envelope id. Handlers registered as pooled share a
// fixed number of execution slots, which bounds how many of them run at once.
package rpc

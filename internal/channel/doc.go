// Package channel implements per-channel reliability for enet peers.
//
// A [Channel] owns the reliable and unreliable sequence counters of one
// logical sub-stream, buffers out-of-order reliable commands until they can
// be released in order, and reassembles fragmented messages. The
// [RetransmitQueue] and [RTT] estimator track reliable commands awaiting
// acknowledgment, and [UnsequencedWindow] suppresses duplicate unsequenced
// commands.
//
// Nothing in this package blocks, starts goroutines, or reads the clock;
// callers pass the current time in milliseconds.
package channel

// Package sequencer produces the monotonically increasing 16-bit sequence
// numbers that every payload codec's packetizer stamps onto outgoing
// transport packets, tracking how many times the counter has wrapped.
//
// Two variants are exposed: [NewFixed] starts from a caller-chosen value
// (useful for deterministic tests), and [NewRandom] seeds the counter
// uniformly in [0, 2^15) to avoid collisions with SRTP replay windows on
// stream restart. Both are backed by [github.com/pion/rtp]'s Sequencer,
// which already implements this exact contract for the wider Go
// real-time media ecosystem.
package sequencer

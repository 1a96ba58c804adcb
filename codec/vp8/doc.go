// Package vp8 implements the VP8 payload descriptor: a one-octet
// mandatory header (X, N, S, PID) with optional extension octets
// carrying a PictureID, TL0PICIDX, temporal layer index, and keyframe
// index, per RFC 7741.
package vp8

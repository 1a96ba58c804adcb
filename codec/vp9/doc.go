// Package vp9 implements the VP9 RTP payload descriptor in both its
// flexible (reference-index) and non-flexible (temporal/spatial layer
// index) modes, plus the minimal VP9 uncompressed-frame-header parse
// needed to classify a frame as a keyframe for the P bit.
package vp9

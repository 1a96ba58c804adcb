// Package h264 implements the H.264 RTP payload format (RFC 6184):
// single NAL unit packets, STAP-A aggregation for parameter sets, and
// FU-A fragmentation for NAL units larger than the MTU.
package h264

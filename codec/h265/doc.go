// Package h265 implements the H.265/HEVC RTP payload format (RFC 7798):
// single NAL unit packets, aggregation packets, and fragmentation
// units, plus the optional PACI extension header.
package h265

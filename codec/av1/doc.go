// Package av1 implements the AV1 RTP payload format: OBU framing with
// leb128-encoded sizes, and the RTP aggregation header (Z/Y/W/N bits)
// used to pack, fragment, and reassemble OBUs across packets.
package av1

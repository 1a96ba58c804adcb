// Package header implements a bit-exact codec for the real-time transport
// header described in RFC 3550: the fixed 12-octet header, the CSRC list,
// the one-byte (0xBEDE) and two-byte (0x1000) extension profiles, a raw
// extension fallback for any other profile, and tail padding.
//
// # Architecture Overview
//
// [Header] is a plain value holding the parsed fields of one packet's
// header. [Header.Marshal] and [Header.Unmarshal] are pure functions: no
// I/O, no shared state, no retained buffers. [Packet] pairs a [Header]
// with its payload and understands the padding-octet convention used to
// round a serialized packet to a transport-friendly size.
//
//	h := header.Header{Version: 2, PayloadType: 0x60, SequenceNumber: 0x1234}
//	buf, err := h.Marshal()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	var parsed header.Header
//	n, err := parsed.Unmarshal(buf)
//
// # Extensions
//
// [Header.SetExtension] auto-selects the narrowest profile that can hold
// the payload (one-byte for ≤16 octets, two-byte for <256 octets) the
// first time an extension is added; once a profile is chosen, further
// extensions are inserted under that profile, preserving insertion order,
// and their ids and lengths are checked against it by [Header.Marshal].
package header

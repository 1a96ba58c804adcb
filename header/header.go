package header

import (
	"encoding/binary"

	"github.com/opd-ai/mediartp/rtperr"
)

const (
	fixedHeaderSize = 12
	csrcSize        = 4

	extensionProfileOneByte = 0xBEDE
	extensionProfileTwoByte = 0x1000

	oneByteExtensionIDReserved = 0xF
	oneByteExtensionMaxLen     = 16
	twoByteExtensionMaxLen     = 255

	maxCSRC = 15
)

// Extension is an (id, payload) pair carried in the header extension
// region. Order within a Header.Extensions slice is significant and is
// preserved across Marshal/Unmarshal/SetExtension/DeleteExtension.
type Extension struct {
	ID      uint8
	Payload []byte
}

// Header is the parsed form of one transport packet's header. It is a
// plain value: Marshal and Unmarshal never retain a reference to the
// buffer they are given.
type Header struct {
	Version        uint8
	Padding        bool
	Extension      bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32

	ExtensionProfile uint16
	Extensions       []Extension
}

// Size returns the number of octets Marshal will produce for h.
func (h *Header) Size() int {
	size := fixedHeaderSize + csrcSize*len(h.CSRC)
	if h.Extension {
		size += 4 + paddedExtensionSize(extensionEntriesSize(h))
	}
	return size
}

func extensionEntriesSize(h *Header) int {
	switch h.ExtensionProfile {
	case extensionProfileOneByte:
		n := 0
		for _, e := range h.Extensions {
			n += 1 + len(e.Payload)
		}
		return n
	case extensionProfileTwoByte:
		n := 0
		for _, e := range h.Extensions {
			n += 2 + len(e.Payload)
		}
		return n
	default:
		n := 0
		for _, e := range h.Extensions {
			n += len(e.Payload)
		}
		return n
	}
}

func paddedExtensionSize(n int) int {
	if rem := n % 4; rem != 0 {
		n += 4 - rem
	}
	return n
}

// Unmarshal parses buf into h, returning the number of octets consumed.
func (h *Header) Unmarshal(buf []byte) (int, error) {
	if len(buf) < fixedHeaderSize {
		return 0, rtperr.ErrShortBuffer
	}

	h.Version = buf[0] >> 6 & 0x3
	h.Padding = buf[0]&0x20 != 0
	h.Extension = buf[0]&0x10 != 0
	cc := int(buf[0] & 0xF)

	h.Marker = buf[1]&0x80 != 0
	h.PayloadType = buf[1] & 0x7F

	h.SequenceNumber = binary.BigEndian.Uint16(buf[2:4])
	h.Timestamp = binary.BigEndian.Uint32(buf[4:8])
	h.SSRC = binary.BigEndian.Uint32(buf[8:12])

	offset := fixedHeaderSize + csrcSize*cc
	if len(buf) < offset {
		return 0, rtperr.ErrShortBuffer
	}

	h.CSRC = h.CSRC[:0]
	for i := 0; i < cc; i++ {
		start := fixedHeaderSize + csrcSize*i
		h.CSRC = append(h.CSRC, binary.BigEndian.Uint32(buf[start:start+4]))
	}

	h.Extensions = h.Extensions[:0]
	h.ExtensionProfile = 0

	if h.Extension {
		if len(buf) < offset+4 {
			return 0, rtperr.ErrShortBuffer
		}
		h.ExtensionProfile = binary.BigEndian.Uint16(buf[offset : offset+2])
		extWords := binary.BigEndian.Uint16(buf[offset+2 : offset+4])
		offset += 4

		extLen := int(extWords) * 4
		if offset+extLen > len(buf) {
			return 0, rtperr.ErrShortBuffer
		}
		region := buf[offset : offset+extLen]

		var err error
		h.Extensions, err = parseExtensions(h.ExtensionProfile, region)
		if err != nil {
			return 0, err
		}
		offset += extLen
	}

	return offset, nil
}

func parseExtensions(profile uint16, region []byte) ([]Extension, error) {
	var out []Extension

	switch profile {
	case extensionProfileOneByte:
		i := 0
		for i < len(region) {
			if region[i] == 0 {
				i++
				continue
			}
			id := region[i] >> 4
			length := int(region[i]&0xF) + 1
			i++
			if id == oneByteExtensionIDReserved {
				break
			}
			if i+length > len(region) {
				return nil, rtperr.ErrMalformedExtension
			}
			payload := make([]byte, length)
			copy(payload, region[i:i+length])
			out = append(out, Extension{ID: id, Payload: payload})
			i += length
		}

	case extensionProfileTwoByte:
		i := 0
		for i < len(region) {
			if region[i] == 0 {
				i++
				continue
			}
			id := region[i]
			i++
			if i >= len(region) {
				return nil, rtperr.ErrMalformedExtension
			}
			length := int(region[i])
			i++
			if i+length > len(region) {
				return nil, rtperr.ErrMalformedExtension
			}
			payload := make([]byte, length)
			copy(payload, region[i:i+length])
			out = append(out, Extension{ID: id, Payload: payload})
			i += length
		}

	default:
		payload := make([]byte, len(region))
		copy(payload, region)
		out = append(out, Extension{ID: 0, Payload: payload})
	}

	return out, nil
}

// Marshal serializes h, returning the bit-exact wire representation.
func (h *Header) Marshal() ([]byte, error) {
	if len(h.CSRC) > maxCSRC {
		return nil, rtperr.ErrInvalidExtension
	}

	var extBytes []byte
	if h.Extension {
		var err error
		extBytes, err = marshalExtensions(h.ExtensionProfile, h.Extensions)
		if err != nil {
			return nil, err
		}
		for len(extBytes)%4 != 0 {
			extBytes = append(extBytes, 0)
		}
	}

	size := fixedHeaderSize + csrcSize*len(h.CSRC)
	if h.Extension {
		size += 4 + len(extBytes)
	}

	buf := make([]byte, size)

	buf[0] = h.Version<<6 | boolBit(h.Padding, 0x20) | boolBit(h.Extension, 0x10) | byte(len(h.CSRC))
	buf[1] = boolBit(h.Marker, 0x80) | h.PayloadType&0x7F
	binary.BigEndian.PutUint16(buf[2:4], h.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)

	offset := fixedHeaderSize
	for _, c := range h.CSRC {
		binary.BigEndian.PutUint32(buf[offset:offset+4], c)
		offset += 4
	}

	if h.Extension {
		binary.BigEndian.PutUint16(buf[offset:offset+2], h.ExtensionProfile)
		binary.BigEndian.PutUint16(buf[offset+2:offset+4], uint16(len(extBytes)/4))
		offset += 4
		copy(buf[offset:], extBytes)
	}

	return buf, nil
}

func boolBit(b bool, mask byte) byte {
	if b {
		return mask
	}
	return 0
}

func marshalExtensions(profile uint16, extensions []Extension) ([]byte, error) {
	var out []byte

	switch profile {
	case extensionProfileOneByte:
		for _, e := range extensions {
			if e.ID < 1 || e.ID > 14 || len(e.Payload) < 1 || len(e.Payload) > oneByteExtensionMaxLen {
				return nil, rtperr.ErrInvalidExtension
			}
			out = append(out, e.ID<<4|byte(len(e.Payload)-1))
			out = append(out, e.Payload...)
		}

	case extensionProfileTwoByte:
		for _, e := range extensions {
			if e.ID < 1 || len(e.Payload) > twoByteExtensionMaxLen {
				return nil, rtperr.ErrInvalidExtension
			}
			out = append(out, e.ID, byte(len(e.Payload)))
			out = append(out, e.Payload...)
		}

	default:
		if len(extensions) != 1 || len(extensions[0].Payload)%4 != 0 {
			return nil, rtperr.ErrInvalidExtension
		}
		out = append(out, extensions[0].Payload...)
	}

	return out, nil
}

// SetExtension adds or replaces the extension identified by id. When the
// header carries no extension yet, the profile is auto-selected: one-byte
// if payload fits in 16 octets, otherwise two-byte if it fits in 255.
// Replacing an existing id keeps its position in the ordered list.
func (h *Header) SetExtension(id uint8, payload []byte) error {
	if !h.Extension {
		h.Extension = true
		switch {
		case len(payload) == 0:
			// Only the two-byte profile permits a zero-length payload.
			h.ExtensionProfile = extensionProfileTwoByte
		case len(payload) <= oneByteExtensionMaxLen:
			h.ExtensionProfile = extensionProfileOneByte
		case len(payload) < 256:
			h.ExtensionProfile = extensionProfileTwoByte
		default:
			return rtperr.ErrInvalidExtension
		}
	}

	for i := range h.Extensions {
		if h.Extensions[i].ID == id {
			h.Extensions[i].Payload = payload
			return nil
		}
	}

	h.Extensions = append(h.Extensions, Extension{ID: id, Payload: payload})
	return nil
}

// DeleteExtension removes the extension identified by id. It reports
// whether an extension with that id was present.
func (h *Header) DeleteExtension(id uint8) bool {
	for i := range h.Extensions {
		if h.Extensions[i].ID == id {
			h.Extensions = append(h.Extensions[:i], h.Extensions[i+1:]...)
			return true
		}
	}
	return false
}

// GetExtension returns the payload of the extension identified by id.
func (h *Header) GetExtension(id uint8) ([]byte, bool) {
	for _, e := range h.Extensions {
		if e.ID == id {
			return e.Payload, true
		}
	}
	return nil, false
}

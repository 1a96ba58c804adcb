package header

import "github.com/opd-ai/mediartp/rtperr"

// Packet pairs a Header with its payload bytes and applies the padding
// convention: when Header.Padding is set, the trailing octet of the
// serialized packet names the number of padding octets, itself included.
type Packet struct {
	Header      Header
	Payload     []byte
	PaddingSize uint8
}

// Marshal serializes the packet, appending PaddingSize zero octets with
// the count written into the last one, when Header.Padding is set.
func (p *Packet) Marshal() ([]byte, error) {
	if p.Header.Padding && p.PaddingSize == 0 {
		return nil, rtperr.ErrInvalidExtension
	}

	headerBytes, err := p.Header.Marshal()
	if err != nil {
		return nil, err
	}

	size := len(headerBytes) + len(p.Payload)
	if p.Header.Padding {
		size += int(p.PaddingSize)
	}

	buf := make([]byte, size)
	n := copy(buf, headerBytes)
	n += copy(buf[n:], p.Payload)

	if p.Header.Padding {
		buf[len(buf)-1] = p.PaddingSize
	}

	return buf, nil
}

// Unmarshal parses buf into the packet's header and payload, stripping
// any trailing padding region named by the header's padding flag.
func (p *Packet) Unmarshal(buf []byte) error {
	n, err := p.Header.Unmarshal(buf)
	if err != nil {
		return err
	}

	rest := buf[n:]
	if p.Header.Padding {
		if len(rest) == 0 {
			return rtperr.ErrShortBuffer
		}
		padSize := rest[len(rest)-1]
		if padSize == 0 || int(padSize) > len(rest) {
			return rtperr.ErrCorrupted
		}
		p.PaddingSize = padSize
		rest = rest[:len(rest)-int(padSize)]
	} else {
		p.PaddingSize = 0
	}

	p.Payload = append(p.Payload[:0], rest...)
	return nil
}

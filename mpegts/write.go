package mpegts

import "fmt"

// WritePacket encodes a transport packet with the given header and payload
// into dst, which must hold at least PacketLen bytes. Payloads shorter than
// the available space are padded with an adaptation field of stuffing
// bytes, as a muxer would.
func WritePacket(dst []byte, h PacketHeader, payload []byte) error {
	if len(dst) < PacketLen {
		return fmt.Errorf("destination %d bytes, need %d: %w", len(dst), PacketLen, ErrInvalidData)
	}
	if len(payload) > PacketLen-4 {
		return fmt.Errorf("payload %d bytes exceeds packet capacity: %w", len(payload), ErrInvalidData)
	}

	dst[0] = SyncByte
	dst[1] = byte(h.PID >> 8 & 0x1F)
	if h.TransportErrorIndicator {
		dst[1] |= 0x80
	}
	if h.PayloadUnitStartIndicator {
		dst[1] |= 0x40
	}
	if h.TransportPriority {
		dst[1] |= 0x20
	}
	dst[2] = byte(h.PID)
	dst[3] = byte(h.Scrambling)<<6 | h.ContinuityCounter&0x0F

	offset := 4
	stuffing := PacketLen - 4 - len(payload)

	if stuffing > 0 {
		dst[3] |= 0x20 // adaptation field present
		dst[offset] = byte(stuffing - 1)
		offset++
		if stuffing > 1 {
			dst[offset] = 0x00 // no flags
			offset++
			for i := 0; i < stuffing-2; i++ {
				dst[offset+i] = 0xFF
			}
			offset += stuffing - 2
		}
	}

	if len(payload) > 0 {
		dst[3] |= 0x10 // payload present
		copy(dst[offset:], payload)
	}

	return nil
}

// BuildSection wraps body in an 8-byte PSI section head and appends the
// MPEG-2 CRC32, producing one complete section.
func BuildSection(tableID uint8, tableIDExt uint16, version uint8, sectionNumber, lastSectionNumber uint8, body []byte) []byte {
	sectionLength := 5 + len(body) + 4 // fixed head after length field + body + CRC

	s := make([]byte, 8, 8+len(body)+4)
	s[0] = tableID
	s[1] = 0xB0 | byte(sectionLength>>8)&0x0F // section_syntax_indicator=1
	s[2] = byte(sectionLength)
	s[3] = byte(tableIDExt >> 8)
	s[4] = byte(tableIDExt)
	s[5] = 0xC0 | version<<1&0x3E | 0x01 // reserved(2) + version(5) + current_next(1)
	s[6] = sectionNumber
	s[7] = lastSectionNumber
	s = append(s, body...)
	return AppendCRC32(s)
}

// PacketizeSection splits one PSI section into transport packets on pid,
// prepending the pointer field and numbering continuity counters from cc.
func PacketizeSection(pid uint16, cc uint8, section []byte) [][]byte {
	payload := make([]byte, 1+len(section))
	payload[0] = 0x00 // pointer field
	copy(payload[1:], section)

	var pkts [][]byte
	first := true
	for len(payload) > 0 {
		n := len(payload)
		if n > PacketLen-4 {
			n = PacketLen - 4
		}
		dst := make([]byte, PacketLen)
		h := PacketHeader{
			PID:                       pid,
			ContinuityCounter:         cc & 0x0F,
			PayloadUnitStartIndicator: first,
		}
		chunk := payload[:n]
		if n < PacketLen-4 && !first {
			// Continuation packets must not shrink via adaptation
			// stuffing in the middle of a section; pad with 0xFF
			// stuffing bytes instead, which the section layer skips.
			padded := make([]byte, PacketLen-4)
			copy(padded, chunk)
			for i := n; i < len(padded); i++ {
				padded[i] = 0xFF
			}
			chunk = padded
		}
		if err := WritePacket(dst, h, chunk); err != nil {
			return nil
		}
		pkts = append(pkts, dst)
		payload = payload[n:]
		cc++
		first = false
	}
	return pkts
}

package mpegts

import (
	"errors"
	"fmt"
)

const (
	// PacketLen is the length of a raw transport packet in bytes.
	PacketLen = 188
	// SyncByte starts every transport packet.
	SyncByte = 0x47
	// NullPID carries stuffing packets with no meaningful payload.
	NullPID = 0x1FFF
)

// ErrInvalidData reports a malformed packet, section, or adaptation field.
var ErrInvalidData = errors.New("mpegts: invalid data")

// ScramblingControl is the 2-bit transport scrambling control field.
type ScramblingControl uint8

// Scrambling control values.
const (
	ScrambleNone     ScramblingControl = 0
	ScrambleReserved ScramblingControl = 1
	ScrambleEven     ScramblingControl = 2
	ScrambleOdd      ScramblingControl = 3
)

// Packet is a parsed 188-byte MPEG-TS transport stream packet.
type Packet struct {
	Header     PacketHeader
	Adaptation *AdaptationField
	Payload    []byte
}

// PacketHeader contains the parsed header fields of a transport stream packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	Scrambling                ScramblingControl
	TransportErrorIndicator   bool
	PayloadUnitStartIndicator bool
	TransportPriority         bool
	HasAdaptationField        bool
	HasPayload                bool
}

// ClockReference holds a PCR/OPCR value: a 33-bit base ticking at 90 kHz
// plus a 9-bit extension ticking at 27 MHz.
type ClockReference struct {
	Base      int64
	Extension int64
}

// AdaptationField carries the optional in-band metadata preceding (or
// replacing) the packet payload.
type AdaptationField struct {
	Length                 int
	DiscontinuityIndicator bool
	RandomAccessIndicator  bool
	ESPriorityIndicator    bool
	PCR                    *ClockReference
	OPCR                   *ClockReference
	SpliceCountdown        *int8
	PrivateData            []byte
	Extension              *AdaptationExtension
}

// AdaptationExtension is the adaptation field extension with its own
// optional sub-fields.
type AdaptationExtension struct {
	Length         int
	LTWValid       bool
	LTWOffset      *uint16
	PiecewiseRate  *uint32
	SeamlessSplice *SeamlessSplice
}

// SeamlessSplice carries the splice type and the DTS of the next access
// unit after the splice point.
type SeamlessSplice struct {
	SpliceType uint8
	DTSNextAU  int64
}

// Parse decodes one transport packet from the first 188 bytes of buf.
// It fails if the buffer is short, the sync byte is absent, or the
// adaptation field is truncated.
func Parse(buf []byte) (*Packet, error) {
	if len(buf) < PacketLen {
		return nil, fmt.Errorf("packet size %d, expected %d: %w", len(buf), PacketLen, ErrInvalidData)
	}
	if buf[0] != SyncByte {
		return nil, fmt.Errorf("sync byte 0x%02X: %w", buf[0], ErrInvalidData)
	}

	p := &Packet{}
	p.Header.TransportErrorIndicator = buf[1]&0x80 != 0
	p.Header.PayloadUnitStartIndicator = buf[1]&0x40 != 0
	p.Header.TransportPriority = buf[1]&0x20 != 0
	p.Header.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	p.Header.Scrambling = ScramblingControl(buf[3] >> 6)
	p.Header.HasAdaptationField = buf[3]&0x20 != 0
	p.Header.HasPayload = buf[3]&0x10 != 0
	p.Header.ContinuityCounter = buf[3] & 0x0F

	offset := 4

	if p.Header.HasAdaptationField {
		afLen := int(buf[offset])
		offset++
		if afLen > PacketLen-offset {
			return nil, fmt.Errorf("adaptation field length %d exceeds packet: %w", afLen, ErrInvalidData)
		}
		if afLen > 0 {
			af, err := parseAdaptationField(buf[offset : offset+afLen])
			if err != nil {
				return nil, err
			}
			p.Adaptation = af
		}
		offset += afLen
	}

	if p.Header.HasPayload && offset < PacketLen {
		p.Payload = make([]byte, PacketLen-offset)
		copy(p.Payload, buf[offset:PacketLen])
	}

	return p, nil
}

func parseAdaptationField(buf []byte) (*AdaptationField, error) {
	af := &AdaptationField{Length: len(buf)}
	af.DiscontinuityIndicator = buf[0]&0x80 != 0
	af.RandomAccessIndicator = buf[0]&0x40 != 0
	af.ESPriorityIndicator = buf[0]&0x20 != 0
	hasPCR := buf[0]&0x10 != 0
	hasOPCR := buf[0]&0x08 != 0
	hasSplice := buf[0]&0x04 != 0
	hasPrivate := buf[0]&0x02 != 0
	hasExtension := buf[0]&0x01 != 0

	offset := 1

	if hasPCR {
		if len(buf) < offset+6 {
			return nil, fmt.Errorf("adaptation field truncated at PCR: %w", ErrInvalidData)
		}
		af.PCR = parseClockReference(buf[offset : offset+6])
		offset += 6
	}
	if hasOPCR {
		if len(buf) < offset+6 {
			return nil, fmt.Errorf("adaptation field truncated at OPCR: %w", ErrInvalidData)
		}
		af.OPCR = parseClockReference(buf[offset : offset+6])
		offset += 6
	}
	if hasSplice {
		if len(buf) < offset+1 {
			return nil, fmt.Errorf("adaptation field truncated at splice countdown: %w", ErrInvalidData)
		}
		sc := int8(buf[offset])
		af.SpliceCountdown = &sc
		offset++
	}
	if hasPrivate {
		if len(buf) < offset+1 {
			return nil, fmt.Errorf("adaptation field truncated at private data length: %w", ErrInvalidData)
		}
		privLen := int(buf[offset])
		offset++
		if len(buf) < offset+privLen {
			return nil, fmt.Errorf("adaptation field truncated at private data: %w", ErrInvalidData)
		}
		af.PrivateData = make([]byte, privLen)
		copy(af.PrivateData, buf[offset:offset+privLen])
		offset += privLen
	}
	if hasExtension {
		if len(buf) < offset+1 {
			return nil, fmt.Errorf("adaptation field truncated at extension length: %w", ErrInvalidData)
		}
		extLen := int(buf[offset])
		offset++
		if extLen < 1 || len(buf) < offset+extLen {
			return nil, fmt.Errorf("adaptation field truncated at extension: %w", ErrInvalidData)
		}
		ext, err := parseAdaptationExtension(buf[offset : offset+extLen])
		if err != nil {
			return nil, err
		}
		af.Extension = ext
	}

	return af, nil
}

func parseAdaptationExtension(buf []byte) (*AdaptationExtension, error) {
	ext := &AdaptationExtension{Length: len(buf)}
	hasLTW := buf[0]&0x80 != 0
	hasPiecewise := buf[0]&0x40 != 0
	hasSeamless := buf[0]&0x20 != 0

	offset := 1

	if hasLTW {
		if len(buf) < offset+2 {
			return nil, fmt.Errorf("adaptation extension truncated at LTW: %w", ErrInvalidData)
		}
		ext.LTWValid = buf[offset]&0x80 != 0
		off := uint16(buf[offset]&0x7F)<<8 | uint16(buf[offset+1])
		ext.LTWOffset = &off
		offset += 2
	}
	if hasPiecewise {
		if len(buf) < offset+3 {
			return nil, fmt.Errorf("adaptation extension truncated at piecewise rate: %w", ErrInvalidData)
		}
		rate := uint32(buf[offset]&0x3F)<<16 | uint32(buf[offset+1])<<8 | uint32(buf[offset+2])
		ext.PiecewiseRate = &rate
		offset += 3
	}
	if hasSeamless {
		if len(buf) < offset+5 {
			return nil, fmt.Errorf("adaptation extension truncated at seamless splice: %w", ErrInvalidData)
		}
		ss := &SeamlessSplice{
			SpliceType: buf[offset] >> 4,
			DTSNextAU: int64(buf[offset]>>1&0x07)<<30 |
				int64(buf[offset+1])<<22 |
				int64(buf[offset+2]>>1&0x7F)<<15 |
				int64(buf[offset+3])<<7 |
				int64(buf[offset+4]>>1&0x7F),
		}
		ext.SeamlessSplice = ss
	}

	return ext, nil
}

// parseClockReference decodes the 48-bit PCR/OPCR layout:
// base(33) + reserved(6) + extension(9).
func parseClockReference(b []byte) *ClockReference {
	base := int64(b[0])<<25 | int64(b[1])<<17 | int64(b[2])<<9 | int64(b[3])<<1 | int64(b[4])>>7
	ext := int64(b[4]&0x01)<<8 | int64(b[5])
	return &ClockReference{Base: base, Extension: ext}
}

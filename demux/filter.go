package demux

import (
	"fmt"

	"github.com/zsiec/tsdemux/mpegts"
)

type filterKind int

const (
	filterSection filterKind = iota
	filterPES
	filterNull
)

func (k filterKind) String() string {
	switch k {
	case filterSection:
		return "section"
	case filterPES:
		return "pes"
	case filterNull:
		return "null"
	}
	return "unknown"
}

const (
	sectionHeadLen = 8
	pesHeadLen     = 6
	stuffingByte   = 0xFF
)

type pesHead struct {
	streamID     uint8
	packetLength int
}

// filter is the per-PID reassembly state machine. It accumulates payload
// bytes across packets, locates unit boundaries via the pointer-field
// convention, and hands one complete section (or PES packet) at a time to
// the table engine.
type filter struct {
	pid      uint16
	kind     filterKind
	buf      []byte
	hasHead  bool
	section  sectionHead
	pes      pesHead
	expected int // payload bytes following the head
	lastCC   int // -1 until the first payload-carrying packet
	ccError  bool
}

func newFilter(pid uint16, kind filterKind) *filter {
	return &filter{pid: pid, kind: kind, lastCC: -1}
}

func (f *filter) headLen() int {
	if f.kind == filterPES {
		return pesHeadLen
	}
	return sectionHeadLen
}

// handle feeds one packet through the state machine. Continuity is checked
// only on packets that carry payload; a mismatch that is not an exact
// duplicate sets the sticky error flag and processing continues.
func (f *filter) handle(d *Demuxer, p *mpegts.Packet) error {
	if f.kind == filterNull {
		return nil
	}

	if p.Header.HasPayload {
		cc := int(p.Header.ContinuityCounter)
		if f.lastCC >= 0 && cc != (f.lastCC+1)&0x0F {
			if cc == f.lastCC {
				return nil // exact duplicate, drop
			}
			f.ccError = true
			d.ccError = true
		}
		f.lastCC = cc
	}

	if len(p.Payload) == 0 {
		return nil
	}

	payload := p.Payload
	if p.Header.PayloadUnitStartIndicator {
		ptr := int(payload[0])
		rest := payload[1:]
		if ptr > len(rest) {
			return fmt.Errorf("pointer field %d exceeds payload on PID 0x%04X: %w", ptr, f.pid, ErrInvalidData)
		}

		// Bytes before the pointer complete the in-flight unit; anything
		// still incomplete after that is discarded by the restart below.
		f.buf = append(f.buf, rest[:ptr]...)
		err := f.drain(d)
		f.restart(rest[ptr:])
		if err != nil {
			return err
		}
	} else {
		f.buf = append(f.buf, payload...)
	}

	return f.drain(d)
}

// restart discards any partial unit and starts accumulating a new one.
func (f *filter) restart(b []byte) {
	f.buf = append(f.buf[:0], b...)
	f.hasHead = false
	f.expected = 0
}

// drain parses the unit head as soon as enough bytes are buffered and
// flushes complete units, keeping surplus bytes for the next unit.
func (f *filter) drain(d *Demuxer) error {
	for {
		if !f.hasHead {
			if f.kind == filterSection {
				if len(f.buf) > 0 && f.buf[0] == stuffingByte {
					// Stuffing fills the remainder of the packet.
					f.buf = f.buf[:0]
					return nil
				}
				if len(f.buf) < sectionHeadLen {
					return nil
				}
				h, err := parseSectionHead(f.buf)
				if err != nil {
					f.buf = f.buf[:0]
					return err
				}
				f.section = h
				f.expected = h.sectionLength - 5
				f.hasHead = true
			} else {
				if len(f.buf) < pesHeadLen {
					return nil
				}
				h, err := parsePESHead(f.buf)
				if err != nil {
					f.buf = f.buf[:0]
					return err
				}
				f.pes = h
				f.expected = h.packetLength
				f.hasHead = true
			}
		}

		if len(f.buf) < f.headLen()+f.expected {
			return nil
		}
		if err := f.flush(d); err != nil {
			return err
		}
	}
}

// flush hands the completed unit off and consumes it from the accumulator.
// The consumed bytes are gone; buffered bytes of the next unit remain in
// order.
func (f *filter) flush(d *Demuxer) error {
	unitLen := f.headLen() + f.expected

	var err error
	switch f.kind {
	case filterSection:
		err = d.addSection(f, f.buf[sectionHeadLen:unitLen])
	case filterPES:
		err = fmt.Errorf("stream id 0x%02X on PID 0x%04X: %w", f.pes.streamID, f.pid, ErrPESUnsupported)
	}

	f.buf = f.buf[unitLen:]
	f.hasHead = false
	f.expected = 0
	return err
}

func parsePESHead(b []byte) (pesHead, error) {
	if b[0] != 0x00 || b[1] != 0x00 || b[2] != 0x01 {
		return pesHead{}, fmt.Errorf("PES start code %02X%02X%02X: %w", b[0], b[1], b[2], ErrInvalidData)
	}
	return pesHead{
		streamID:     b[3],
		packetLength: int(b[4])<<8 | int(b[5]),
	}, nil
}

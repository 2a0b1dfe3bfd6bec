package mpegts

import "fmt"

// PacketSize identifies one of the three fixed transport packet strides.
type PacketSize int

// Supported packet strides.
const (
	// Size188 is the default bare transport packet.
	Size188 PacketSize = 188
	// Size192 is M2TS: a 4-byte timecode prefix before each packet.
	Size192 PacketSize = 192
	// Size204 is DVB: a 16-byte FEC trailer after each packet.
	Size204 PacketSize = 204
)

// Stride returns the distance between consecutive sync bytes.
func (s PacketSize) Stride() int { return int(s) }

// SyncOffset returns the offset of the sync byte within one stride.
func (s PacketSize) SyncOffset() int {
	if s == Size192 {
		return 4
	}
	return 0
}

// Trailer returns the number of ignored bytes after each 188-byte packet.
func (s PacketSize) Trailer() int {
	if s == Size204 {
		return 16
	}
	return 0
}

func (s PacketSize) String() string {
	switch s {
	case Size188:
		return "188"
	case Size192:
		return "192/M2TS"
	case Size204:
		return "204/DVB"
	}
	return fmt.Sprintf("PacketSize(%d)", int(s))
}

// detectProbePackets is how many packet strides DetectPacketSize inspects.
const detectProbePackets = 8

// DetectPacketSize probes buf for sync-byte alignment and returns the
// stride with the most consistent 0x47 hits. Ties resolve toward the
// smaller stride, so a plain 188-byte stream never reports as 204.
func DetectPacketSize(buf []byte) (PacketSize, error) {
	candidates := []PacketSize{Size188, Size192, Size204}

	best := PacketSize(0)
	bestHits := 0
	for _, c := range candidates {
		hits := 0
		probed := 0
		for i := 0; i < detectProbePackets; i++ {
			pos := i*c.Stride() + c.SyncOffset()
			if pos >= len(buf) {
				break
			}
			probed++
			if buf[pos] == SyncByte {
				hits++
			}
		}
		if probed > 0 && hits == probed && hits > bestHits {
			best = c
			bestHits = hits
		}
	}

	if best == 0 {
		return 0, fmt.Errorf("no sync-byte alignment found in %d bytes: %w", len(buf), ErrInvalidData)
	}
	return best, nil
}

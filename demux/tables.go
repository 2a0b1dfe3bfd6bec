package demux

import (
	"fmt"
	"time"
)

// Table ids.
const (
	TableIDPAT      = 0x00
	TableIDCAT      = 0x01
	TableIDPMT      = 0x02
	TableIDTSDT     = 0x03
	TableIDNIT      = 0x40 // actual network
	TableIDNITOther = 0x41
	TableIDSDT      = 0x42 // actual transport stream
	TableIDSDTOther = 0x46
	TableIDBAT      = 0x4A
	TableIDEIT      = 0x4E // actual TS, present/following
	TableIDTDT      = 0x70
	TableIDRST      = 0x71
	TableIDTOT      = 0x73
)

// Well-known PIDs.
const (
	PIDPAT  = 0x0000
	PIDCAT  = 0x0001
	PIDTSDT = 0x0002
	PIDNIT  = 0x0010
	PIDSDT  = 0x0011 // also BAT
	PIDEIT  = 0x0012
	PIDRST  = 0x0013
	PIDTDT  = 0x0014 // also TOT
)

// RunningStatus is the 3-bit DVB running status field.
type RunningStatus uint8

// Running status values.
const (
	RunningUndefined  RunningStatus = 0
	RunningNot        RunningStatus = 1
	RunningStartsSoon RunningStatus = 2
	RunningPausing    RunningStatus = 3
	Running           RunningStatus = 4
	RunningOffAir     RunningStatus = 5
)

func (r RunningStatus) String() string {
	switch r {
	case RunningNot:
		return "not running"
	case RunningStartsSoon:
		return "starts soon"
	case RunningPausing:
		return "pausing"
	case Running:
		return "running"
	case RunningOffAir:
		return "off-air"
	}
	return "undefined"
}

// StreamType is the 8-bit elementary stream type from the PMT.
type StreamType uint8

// Common stream types.
const (
	StreamTypeMPEG1Video      StreamType = 0x01
	StreamTypeMPEG2Video      StreamType = 0x02
	StreamTypeMPEG1Audio      StreamType = 0x03
	StreamTypeMPEG2Audio      StreamType = 0x04
	StreamTypePrivateSections StreamType = 0x05
	StreamTypePrivatePES      StreamType = 0x06
	StreamTypeAACADTS         StreamType = 0x0F
	StreamTypeAACLATM         StreamType = 0x11
	StreamTypeH264            StreamType = 0x1B
	StreamTypeHEVC            StreamType = 0x24
	StreamTypeAC3             StreamType = 0x81
)

func (s StreamType) String() string {
	switch s {
	case StreamTypeMPEG1Video:
		return "MPEG-1 video"
	case StreamTypeMPEG2Video:
		return "MPEG-2 video"
	case StreamTypeMPEG1Audio:
		return "MPEG-1 audio"
	case StreamTypeMPEG2Audio:
		return "MPEG-2 audio"
	case StreamTypePrivateSections:
		return "private sections"
	case StreamTypePrivatePES:
		return "private PES"
	case StreamTypeAACADTS:
		return "AAC (ADTS)"
	case StreamTypeAACLATM:
		return "AAC (LATM)"
	case StreamTypeH264:
		return "H.264"
	case StreamTypeHEVC:
		return "HEVC"
	case StreamTypeAC3:
		return "AC-3"
	}
	return fmt.Sprintf("StreamType(0x%02X)", uint8(s))
}

// PAT is the Program Association table payload.
type PAT struct {
	TransportStreamID uint16
	Programs          []PATProgram
}

// PATProgram maps a program number to the PID carrying its PMT (or, for
// program number zero, the network PID).
type PATProgram struct {
	ProgramNumber uint16
	PID           uint16
}

// DescriptorTable is the payload shape shared by CAT and TSDT: a bare
// descriptor loop.
type DescriptorTable struct {
	Descriptors []*Descriptor
}

// PMT is the Program Map table payload.
type PMT struct {
	ProgramNumber uint16
	PCRPID        uint16
	Descriptors   []*Descriptor
	Streams       []PMTStream
}

// PMTStream is one elementary stream entry of a PMT.
type PMTStream struct {
	Type        StreamType
	PID         uint16
	Descriptors []*Descriptor
}

// NetworkTable is the payload shape shared by NIT and BAT: a top-level
// descriptor loop followed by per-transport-stream entries.
type NetworkTable struct {
	NetworkID   uint16
	Descriptors []*Descriptor
	Transports  []TransportEntry
}

// TransportEntry is one transport stream entry of a NIT or BAT.
type TransportEntry struct {
	TransportStreamID uint16
	OriginalNetworkID uint16
	Descriptors       []*Descriptor
}

// SDT is the Service Description table payload.
type SDT struct {
	TransportStreamID uint16
	OriginalNetworkID uint16
	Services          []SDTService
}

// SDTService is one service entry of an SDT.
type SDTService struct {
	ServiceID           uint16
	EITSchedule         bool
	EITPresentFollowing bool
	RunningStatus       RunningStatus
	FreeCAMode          bool
	Descriptors         []*Descriptor
}

// EIT is the Event Information table payload.
type EIT struct {
	ServiceID         uint16
	TransportStreamID uint16
	OriginalNetworkID uint16
	Events            []EITEvent
}

// EITEvent is one event entry of an EIT.
type EITEvent struct {
	EventID       uint16
	StartTime     time.Time
	Duration      time.Duration
	RunningStatus RunningStatus
	FreeCAMode    bool
	Descriptors   []*Descriptor
}

// TOT is the Time Offset table payload.
type TOT struct {
	UTCTime     time.Time
	Descriptors []*Descriptor
}

// parseTablePayload dispatches one section body to the parser for its
// table id, mutating t's payload variant. body includes the trailing
// CRC32, which every parser leaves unconsumed; no CRC validation happens.
func (d *Demuxer) parseTablePayload(t *Table, h sectionHead, body []byte) error {
	switch h.tableID {
	case TableIDTDT, TableIDRST:
		// Recognized but intentionally unparsed. These table ids carry no
		// trailing CRC32 either, so they skip the strip below.
		d.log.Debug("ignoring unimplemented table", "table_id", h.tableID)
		return nil
	}

	if len(body) < 4 {
		return fmt.Errorf("table 0x%02X section body %d bytes: %w", h.tableID, len(body), ErrInvalidData)
	}
	body = body[:len(body)-4] // trailing CRC32, ignored

	switch h.tableID {
	case TableIDPAT:
		return d.parsePAT(t, h, body)
	case TableIDCAT:
		dt, err := d.parseDescriptorTable(body)
		if err != nil {
			return err
		}
		t.CAT = mergeDescriptorTable(t.CAT, dt)
		return nil
	case TableIDTSDT:
		dt, err := d.parseDescriptorTable(body)
		if err != nil {
			return err
		}
		t.TSDT = mergeDescriptorTable(t.TSDT, dt)
		return nil
	case TableIDPMT:
		return d.parsePMT(t, h, body)
	case TableIDNIT, TableIDNITOther:
		nt, err := d.parseNetworkTable(t.NIT, h, body)
		if err != nil {
			return err
		}
		t.NIT = nt
		return nil
	case TableIDBAT:
		nt, err := d.parseNetworkTable(t.BAT, h, body)
		if err != nil {
			return err
		}
		t.BAT = nt
		return nil
	case TableIDSDT, TableIDSDTOther:
		return d.parseSDT(t, h, body)
	case TableIDEIT:
		return d.parseEIT(t, h, body)
	case TableIDTOT:
		return d.parseTOT(t, body)
	default:
		d.log.Debug("ignoring unhandled table", "table_id", h.tableID)
		return nil
	}
}

func (d *Demuxer) parsePAT(t *Table, h sectionHead, body []byte) error {
	if t.PAT == nil {
		t.PAT = &PAT{TransportStreamID: h.tableIDExt}
	}
	for i := 0; i+4 <= len(body); i += 4 {
		if len(t.PAT.Programs) >= d.caps.MaxPrograms {
			return fmt.Errorf("PAT at %d programs: %w", d.caps.MaxPrograms, ErrTableFull)
		}
		t.PAT.Programs = append(t.PAT.Programs, PATProgram{
			ProgramNumber: uint16(body[i])<<8 | uint16(body[i+1]),
			PID:           uint16(body[i+2]&0x1F)<<8 | uint16(body[i+3]),
		})
	}
	return nil
}

func (d *Demuxer) parseDescriptorTable(body []byte) (*DescriptorTable, error) {
	descs, err := d.parseDescriptors(body)
	if err != nil {
		return nil, err
	}
	return &DescriptorTable{Descriptors: descs}, nil
}

// mergeDescriptorTable appends the descriptors of a later section; the
// owning table accumulates across its sections.
func mergeDescriptorTable(dst, src *DescriptorTable) *DescriptorTable {
	if dst == nil {
		return src
	}
	dst.Descriptors = append(dst.Descriptors, src.Descriptors...)
	return dst
}

func (d *Demuxer) parsePMT(t *Table, h sectionHead, body []byte) error {
	if len(body) < 4 {
		return fmt.Errorf("PMT body %d bytes: %w", len(body), ErrInvalidData)
	}
	if t.PMT == nil {
		t.PMT = &PMT{
			ProgramNumber: h.tableIDExt,
			PCRPID:        uint16(body[0]&0x1F)<<8 | uint16(body[1]),
		}
	}

	infoLen := int(body[2]&0x0F)<<8 | int(body[3])
	offset := 4
	if offset+infoLen > len(body) {
		return fmt.Errorf("PMT program info length %d exceeds body: %w", infoLen, ErrInvalidData)
	}
	descs, err := d.parseDescriptors(body[offset : offset+infoLen])
	if err != nil {
		return err
	}
	t.PMT.Descriptors = append(t.PMT.Descriptors, descs...)
	offset += infoLen

	for offset < len(body) {
		if offset+5 > len(body) {
			return fmt.Errorf("PMT stream entry truncated: %w", ErrInvalidData)
		}
		if len(t.PMT.Streams) >= d.caps.MaxStreams {
			return fmt.Errorf("PMT at %d streams: %w", d.caps.MaxStreams, ErrTableFull)
		}
		s := PMTStream{
			Type: StreamType(body[offset]),
			PID:  uint16(body[offset+1]&0x1F)<<8 | uint16(body[offset+2]),
		}
		esLen := int(body[offset+3]&0x0F)<<8 | int(body[offset+4])
		offset += 5
		if offset+esLen > len(body) {
			return fmt.Errorf("PMT ES info length %d exceeds body: %w", esLen, ErrInvalidData)
		}
		if s.Descriptors, err = d.parseDescriptors(body[offset : offset+esLen]); err != nil {
			return err
		}
		offset += esLen
		t.PMT.Streams = append(t.PMT.Streams, s)
	}
	return nil
}

func (d *Demuxer) parseNetworkTable(nt *NetworkTable, h sectionHead, body []byte) (*NetworkTable, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("NIT/BAT body %d bytes: %w", len(body), ErrInvalidData)
	}
	if nt == nil {
		nt = &NetworkTable{NetworkID: h.tableIDExt}
	}

	descLen := int(body[0]&0x0F)<<8 | int(body[1])
	offset := 2
	if offset+descLen > len(body) {
		return nil, fmt.Errorf("NIT/BAT descriptor loop %d exceeds body: %w", descLen, ErrInvalidData)
	}
	descs, err := d.parseDescriptors(body[offset : offset+descLen])
	if err != nil {
		return nil, err
	}
	nt.Descriptors = append(nt.Descriptors, descs...)
	offset += descLen

	if offset+2 > len(body) {
		return nil, fmt.Errorf("NIT/BAT transport loop length truncated: %w", ErrInvalidData)
	}
	loopLen := int(body[offset]&0x0F)<<8 | int(body[offset+1])
	offset += 2
	end := offset + loopLen
	if end > len(body) {
		return nil, fmt.Errorf("NIT/BAT transport loop %d exceeds body: %w", loopLen, ErrInvalidData)
	}

	for offset < end {
		if offset+6 > end {
			return nil, fmt.Errorf("NIT/BAT transport entry truncated: %w", ErrInvalidData)
		}
		if len(nt.Transports) >= d.caps.MaxTransports {
			return nil, fmt.Errorf("NIT/BAT at %d transports: %w", d.caps.MaxTransports, ErrTableFull)
		}
		e := TransportEntry{
			TransportStreamID: uint16(body[offset])<<8 | uint16(body[offset+1]),
			OriginalNetworkID: uint16(body[offset+2])<<8 | uint16(body[offset+3]),
		}
		tdLen := int(body[offset+4]&0x0F)<<8 | int(body[offset+5])
		offset += 6
		if offset+tdLen > end {
			return nil, fmt.Errorf("NIT/BAT transport descriptor loop exceeds body: %w", ErrInvalidData)
		}
		if e.Descriptors, err = d.parseDescriptors(body[offset : offset+tdLen]); err != nil {
			return nil, err
		}
		offset += tdLen
		nt.Transports = append(nt.Transports, e)
	}
	return nt, nil
}

func (d *Demuxer) parseSDT(t *Table, h sectionHead, body []byte) error {
	if len(body) < 3 {
		return fmt.Errorf("SDT body %d bytes: %w", len(body), ErrInvalidData)
	}
	if t.SDT == nil {
		t.SDT = &SDT{
			TransportStreamID: h.tableIDExt,
			OriginalNetworkID: uint16(body[0])<<8 | uint16(body[1]),
		}
	}

	offset := 3 // original_network_id(2) + reserved(1)
	for offset < len(body) {
		if offset+5 > len(body) {
			return fmt.Errorf("SDT service entry truncated: %w", ErrInvalidData)
		}
		if len(t.SDT.Services) >= d.caps.MaxServices {
			return fmt.Errorf("SDT at %d services: %w", d.caps.MaxServices, ErrTableFull)
		}
		s := SDTService{
			ServiceID:           uint16(body[offset])<<8 | uint16(body[offset+1]),
			EITSchedule:         body[offset+2]&0x02 != 0,
			EITPresentFollowing: body[offset+2]&0x01 != 0,
			RunningStatus:       RunningStatus(body[offset+3] >> 5),
			FreeCAMode:          body[offset+3]&0x10 != 0,
		}
		descLen := int(body[offset+3]&0x0F)<<8 | int(body[offset+4])
		offset += 5
		if offset+descLen > len(body) {
			return fmt.Errorf("SDT descriptor loop exceeds body: %w", ErrInvalidData)
		}
		var err error
		if s.Descriptors, err = d.parseDescriptors(body[offset : offset+descLen]); err != nil {
			return err
		}
		offset += descLen
		t.SDT.Services = append(t.SDT.Services, s)
	}
	return nil
}

func (d *Demuxer) parseEIT(t *Table, h sectionHead, body []byte) error {
	if len(body) < 6 {
		return fmt.Errorf("EIT body %d bytes: %w", len(body), ErrInvalidData)
	}
	if t.EIT == nil {
		t.EIT = &EIT{
			ServiceID:         h.tableIDExt,
			TransportStreamID: uint16(body[0])<<8 | uint16(body[1]),
			OriginalNetworkID: uint16(body[2])<<8 | uint16(body[3]),
		}
	}

	offset := 6 // tsid(2) + onid(2) + segment_last_section(1) + last_table_id(1)
	for offset < len(body) {
		if offset+12 > len(body) {
			return fmt.Errorf("EIT event entry truncated: %w", ErrInvalidData)
		}
		if len(t.EIT.Events) >= d.caps.MaxEvents {
			return fmt.Errorf("EIT at %d events: %w", d.caps.MaxEvents, ErrTableFull)
		}
		e := EITEvent{
			EventID:       uint16(body[offset])<<8 | uint16(body[offset+1]),
			StartTime:     decodeMJDTime(body[offset+2 : offset+7]),
			Duration:      decodeBCDDuration(body[offset+7 : offset+10]),
			RunningStatus: RunningStatus(body[offset+10] >> 5),
			FreeCAMode:    body[offset+10]&0x10 != 0,
		}
		descLen := int(body[offset+10]&0x0F)<<8 | int(body[offset+11])
		offset += 12
		if offset+descLen > len(body) {
			return fmt.Errorf("EIT descriptor loop exceeds body: %w", ErrInvalidData)
		}
		var err error
		if e.Descriptors, err = d.parseDescriptors(body[offset : offset+descLen]); err != nil {
			return err
		}
		offset += descLen
		t.EIT.Events = append(t.EIT.Events, e)
	}
	return nil
}

// parseTOT expects the MJD/BCD UTC bytes at the start of the body, the
// layout produced after the uniform 8-byte head. A syntax-0 TOT on the
// wire carries those bytes inside the head instead; sections built with
// mpegts.BuildSection are syntax-1 and match the layout read here.
func (d *Demuxer) parseTOT(t *Table, body []byte) error {
	if len(body) < 7 {
		return fmt.Errorf("TOT body %d bytes: %w", len(body), ErrInvalidData)
	}
	tot := &TOT{UTCTime: decodeMJDTime(body[0:5])}

	descLen := int(body[5]&0x0F)<<8 | int(body[6])
	if 7+descLen > len(body) {
		return fmt.Errorf("TOT descriptor loop exceeds body: %w", ErrInvalidData)
	}
	var err error
	if tot.Descriptors, err = d.parseDescriptors(body[7 : 7+descLen]); err != nil {
		return err
	}
	t.TOT = tot
	return nil
}

// decodeMJDTime decodes the DVB 5-byte start time: 16-bit Modified Julian
// Date followed by six BCD digits of hours, minutes, seconds (UTC).
func decodeMJDTime(b []byte) time.Time {
	mjd := float64(uint16(b[0])<<8 | uint16(b[1]))
	yt := int((mjd - 15078.2) / 365.25)
	mt := int((mjd - 14956.1 - float64(int(float64(yt)*365.25))) / 30.6001)
	day := int(mjd) - 14956 - int(float64(yt)*365.25) - int(float64(mt)*30.6001)
	k := 0
	if mt == 14 || mt == 15 {
		k = 1
	}
	year := yt + k + 1900
	month := mt - 1 - k*12

	return time.Date(year, time.Month(month), day,
		bcd(b[2]), bcd(b[3]), bcd(b[4]), 0, time.UTC)
}

// decodeBCDDuration decodes six BCD digits of hours, minutes, seconds.
func decodeBCDDuration(b []byte) time.Duration {
	return time.Duration(bcd(b[0]))*time.Hour +
		time.Duration(bcd(b[1]))*time.Minute +
		time.Duration(bcd(b[2]))*time.Second
}

func bcd(b byte) int {
	return int(b>>4)*10 + int(b&0x0F)
}

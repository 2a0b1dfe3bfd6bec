// Package demux implements stateful MPEG-TS demultiplexing: per-PID payload
// reassembly, PSI table assembly with version tracking, and dynamic filter
// registration driven by PAT/PMT contents. A Demuxer is exclusively owned
// by one caller goroutine; use one Demuxer per stream for concurrent work.
package demux

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/zsiec/tsdemux/mpegts"
)

const pidCount = 0x2000 // 13-bit PID space

// TableCaps bounds the growable containers of assembled tables. Exceeding
// a cap yields ErrTableFull for the offending section only.
type TableCaps struct {
	MaxPrograms    int
	MaxStreams     int
	MaxServices    int
	MaxEvents      int
	MaxTransports  int
	MaxDescriptors int
}

// DefaultTableCaps are generous bounds suitable for broadcast streams.
func DefaultTableCaps() TableCaps {
	return TableCaps{
		MaxPrograms:    256,
		MaxStreams:     64,
		MaxServices:    512,
		MaxEvents:      1024,
		MaxTransports:  256,
		MaxDescriptors: 64,
	}
}

// Demuxer is the entry point for feeding transport packets and querying
// active PSI tables. All state is owned by one instance; it is not safe
// for concurrent use.
type Demuxer struct {
	log     *slog.Logger
	caps    TableCaps
	pktSize mpegts.PacketSize // 0 until detected or fixed by option
	now     func() time.Time

	filters [pidCount]*filter
	slots   map[uint8]*[maxTableVersions]tableSlot
	active  map[uint8]*Table

	archive    bool
	archived   []*mpegts.Packet
	ccError    bool
	unfiltered uint64

	onTable func(*Table)
}

// Option configures a Demuxer.
type Option func(*Demuxer)

// WithArchive retains every parsed packet for later enumeration.
func WithArchive() Option {
	return func(d *Demuxer) { d.archive = true }
}

// WithPacketSize fixes the packet stride instead of auto-detecting it from
// the first buffer.
func WithPacketSize(s mpegts.PacketSize) Option {
	return func(d *Demuxer) { d.pktSize = s }
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(log *slog.Logger) Option {
	return func(d *Demuxer) {
		if log != nil {
			d.log = log
		}
	}
}

// WithTableCaps overrides the table capacity bounds.
func WithTableCaps(caps TableCaps) Option {
	return func(d *Demuxer) { d.caps = caps }
}

// WithTableFunc registers a callback invoked whenever a table version is
// promoted to active. The callback runs synchronously on the feeding
// goroutine.
func WithTableFunc(fn func(*Table)) Option {
	return func(d *Demuxer) { d.onTable = fn }
}

// New creates a Demuxer with filters registered for the standard PSI and
// DVB SI PIDs plus the null PID.
func New(opts ...Option) *Demuxer {
	d := &Demuxer{
		log:    slog.Default(),
		caps:   DefaultTableCaps(),
		now:    time.Now,
		slots:  make(map[uint8]*[maxTableVersions]tableSlot),
		active: make(map[uint8]*Table),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With("component", "demux")

	for _, pid := range []uint16{
		PIDPAT, PIDCAT, PIDTSDT,
		PIDNIT, PIDSDT, PIDEIT, PIDRST, PIDTDT,
		0x001E, 0x001F, // DIT, SIT
	} {
		d.filters[pid] = newFilter(pid, filterSection)
	}
	d.filters[mpegts.NullPID] = newFilter(mpegts.NullPID, filterNull)

	return d
}

// AddPacket parses and routes one 188-byte transport packet.
func (d *Demuxer) AddPacket(buf []byte) error {
	if buf == nil {
		return fmt.Errorf("nil packet buffer: %w", ErrInvalidArguments)
	}
	p, err := mpegts.Parse(buf)
	if err != nil {
		return err
	}
	return d.route(p)
}

func (d *Demuxer) route(p *mpegts.Packet) error {
	if d.archive {
		d.archived = append(d.archived, p)
	}

	pid := p.Header.PID
	f := d.filters[pid]
	if f == nil {
		if pid < 0x0020 {
			return fmt.Errorf("PID 0x%04X: %w", pid, ErrUnknownPID)
		}
		// Custom-range PID without a filter: counted, skipped.
		d.unfiltered++
		return nil
	}
	return f.handle(d, p)
}

// AddBuffer processes every packet in buf sequentially. The packet stride
// is auto-detected on the first buffer unless fixed with WithPacketSize.
// Processing stops at the first error.
func (d *Demuxer) AddBuffer(buf []byte) error {
	if buf == nil {
		return fmt.Errorf("nil buffer: %w", ErrInvalidArguments)
	}
	if d.pktSize == 0 {
		s, err := mpegts.DetectPacketSize(buf)
		if err != nil {
			return err
		}
		d.pktSize = s
		d.log.Debug("packet size detected", "size", s.String())
	}

	stride := d.pktSize.Stride()
	skip := d.pktSize.SyncOffset()
	for offset := 0; offset+stride <= len(buf); offset += stride {
		if err := d.AddPacket(buf[offset+skip : offset+skip+mpegts.PacketLen]); err != nil {
			return fmt.Errorf("packet at offset %d: %w", offset, err)
		}
	}
	return nil
}

// AddFile reads path fully into memory and processes it as one buffer.
func (d *Demuxer) AddFile(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return err
	}
	return d.AddBuffer(buf)
}

// PacketSize returns the detected or configured stride; zero before the
// first buffer when auto-detecting.
func (d *Demuxer) PacketSize() mpegts.PacketSize { return d.pktSize }

// Table returns the currently active table for the given table id, or nil.
func (d *Demuxer) Table(tableID uint8) *Table { return d.active[tableID] }

// Tables returns the currently active tables, ordered by table id.
func (d *Demuxer) Tables() []*Table {
	out := make([]*Table, 0, len(d.active))
	for _, t := range d.active {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableID < out[j].TableID })
	return out
}

// HasFilter reports whether a filter context is registered for pid.
func (d *Demuxer) HasFilter(pid uint16) bool {
	return pid < pidCount && d.filters[pid] != nil
}

// ContinuityError reports whether any filter observed a continuity-counter
// gap. The flag is sticky; stream loss is reportable, never fatal.
func (d *Demuxer) ContinuityError() bool { return d.ccError }

// UnfilteredPackets returns how many custom-range packets were skipped for
// lack of a registered filter.
func (d *Demuxer) UnfilteredPackets() uint64 { return d.unfiltered }

// ArchivedPackets returns the packets retained by WithArchive, in feed
// order. Nil when archival is disabled.
func (d *Demuxer) ArchivedPackets() []*mpegts.Packet { return d.archived }

// DumpState writes a diagnostic summary of the demuxer's tables, filters,
// and archive to w. The format is for humans and carries no compatibility
// promise.
func (d *Demuxer) DumpState(w io.Writer) {
	fmt.Fprintf(w, "packet size: %s\n", d.pktSize)
	fmt.Fprintf(w, "continuity error: %v, unfiltered packets: %d\n", d.ccError, d.unfiltered)

	fmt.Fprintf(w, "active tables:\n")
	for _, t := range d.Tables() {
		fmt.Fprintf(w, "  id=0x%02X version=%d ext=0x%04X %s\n",
			t.TableID, t.Version, t.TableIDExt, tableSummary(t))
	}

	fmt.Fprintf(w, "table slots:\n")
	for id, slots := range d.slots {
		for i := range slots {
			s := &slots[i]
			if s.partial != nil {
				fmt.Fprintf(w, "  id=0x%02X slot=%d partial version=%d last_section=%d\n",
					id, i, s.partial.Version, s.partial.head.lastSectionNumber)
			}
			if s.parsed != nil {
				fmt.Fprintf(w, "  id=0x%02X slot=%d parsed version=%d completed=%s\n",
					id, i, s.parsed.Version, s.parsed.completedAt.Format(time.RFC3339))
			}
		}
	}

	fmt.Fprintf(w, "filters:\n")
	for pid, f := range d.filters {
		if f != nil {
			fmt.Fprintf(w, "  pid=0x%04X kind=%s buffered=%d cc_error=%v\n",
				pid, f.kind, len(f.buf), f.ccError)
		}
	}

	if d.archive {
		fmt.Fprintf(w, "archived packets: %d\n", len(d.archived))
	}
}

func tableSummary(t *Table) string {
	switch {
	case t.PAT != nil:
		return fmt.Sprintf("PAT programs=%d", len(t.PAT.Programs))
	case t.CAT != nil:
		return fmt.Sprintf("CAT descriptors=%d", len(t.CAT.Descriptors))
	case t.TSDT != nil:
		return fmt.Sprintf("TSDT descriptors=%d", len(t.TSDT.Descriptors))
	case t.PMT != nil:
		return fmt.Sprintf("PMT program=%d pcr_pid=0x%04X streams=%d",
			t.PMT.ProgramNumber, t.PMT.PCRPID, len(t.PMT.Streams))
	case t.NIT != nil:
		return fmt.Sprintf("NIT network=%d transports=%d", t.NIT.NetworkID, len(t.NIT.Transports))
	case t.BAT != nil:
		return fmt.Sprintf("BAT bouquet=%d transports=%d", t.BAT.NetworkID, len(t.BAT.Transports))
	case t.SDT != nil:
		return fmt.Sprintf("SDT services=%d", len(t.SDT.Services))
	case t.EIT != nil:
		return fmt.Sprintf("EIT service=%d events=%d", t.EIT.ServiceID, len(t.EIT.Events))
	case t.TOT != nil:
		return fmt.Sprintf("TOT utc=%s", t.TOT.UTCTime.Format(time.RFC3339))
	}
	return "no payload"
}

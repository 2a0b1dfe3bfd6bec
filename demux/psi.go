package demux

import (
	"fmt"
	"time"
)

const (
	// maxTableVersions is the modulus for version slots; two tables whose
	// versions collide mod this share a slot, newest wins.
	maxTableVersions = 8

	// maxSections bounds the per-table section bitmap; section numbers are
	// 8-bit so 256 covers every legal table.
	maxSections = 256

	// tableAgeThreshold decides version comparisons: candidates completed
	// further apart than this resolve by recency instead of version
	// number, which handles version wraparound.
	tableAgeThreshold = 5 * time.Second
)

// sectionHead is the fixed 8-byte header of one PSI section.
type sectionHead struct {
	tableID           uint8
	syntax            bool
	sectionLength     int
	tableIDExt        uint16
	version           uint8
	currentNext       bool
	sectionNumber     uint8
	lastSectionNumber uint8
}

func parseSectionHead(b []byte) (sectionHead, error) {
	h := sectionHead{
		tableID:           b[0],
		syntax:            b[1]&0x80 != 0,
		sectionLength:     int(b[1]&0x0F)<<8 | int(b[2]),
		tableIDExt:        uint16(b[3])<<8 | uint16(b[4]),
		version:           b[5] >> 1 & 0x1F,
		currentNext:       b[5]&0x01 != 0,
		sectionNumber:     b[6],
		lastSectionNumber: b[7],
	}
	if h.sectionLength < 5 {
		return sectionHead{}, fmt.Errorf("section length %d below header minimum: %w", h.sectionLength, ErrInvalidData)
	}
	return h, nil
}

// Table is one PSI table: an identity, a section-completion bitmap, and a
// tagged union of typed payloads (exactly one variant pointer is non-nil,
// keyed by TableID).
type Table struct {
	TableID    uint8
	TableIDExt uint16
	Version    uint8

	head        sectionHead
	sections    [maxSections / 64]uint64
	completedAt time.Time

	PAT  *PAT
	CAT  *DescriptorTable
	TSDT *DescriptorTable
	PMT  *PMT
	NIT  *NetworkTable
	BAT  *NetworkTable
	SDT  *SDT
	EIT  *EIT
	TOT  *TOT
}

func newTable(h sectionHead) *Table {
	return &Table{
		TableID:    h.tableID,
		TableIDExt: h.tableIDExt,
		Version:    h.version,
		head:       h,
	}
}

// CompletedAt returns when the last section of this table arrived. Zero
// for tables still under construction.
func (t *Table) CompletedAt() time.Time { return t.completedAt }

func (t *Table) hasSection(n uint8) bool {
	return t.sections[n/64]&(1<<(n%64)) != 0
}

func (t *Table) markSection(n uint8) {
	t.sections[n/64] |= 1 << (n % 64)
}

func (t *Table) complete() bool {
	for i := 0; i <= int(t.head.lastSectionNumber); i++ {
		if !t.hasSection(uint8(i)) {
			return false
		}
	}
	return true
}

// tableSlot holds the two parallel instances per (tableID, version slot):
// a partial table under construction and the last completed one.
type tableSlot struct {
	partial *Table
	parsed  *Table
}

// addSection merges one reassembled section into the table engine. Called
// from the section filter flush path; f.section is the head of the section
// whose body bytes are in body (trailing CRC32 included, never verified).
func (d *Demuxer) addSection(f *filter, body []byte) error {
	h := f.section

	if !h.currentNext {
		d.log.Debug("skipping not-yet-applicable section",
			"table_id", h.tableID, "version", h.version)
		return nil
	}

	slots := d.slots[h.tableID]
	if slots == nil {
		slots = new([maxTableVersions]tableSlot)
		d.slots[h.tableID] = slots
	}
	slot := &slots[h.version%maxTableVersions]

	// Already assembled this exact version.
	if slot.parsed != nil && slot.parsed.Version == h.version {
		return nil
	}

	// First section of a new version supersedes any in-progress partial
	// of a different version in the same slot.
	if slot.partial == nil || slot.partial.Version != h.version {
		slot.partial = newTable(h)
	}
	t := slot.partial

	if t.hasSection(h.sectionNumber) {
		return nil // idempotent
	}
	t.markSection(h.sectionNumber)
	t.head = h

	if err := d.parseTablePayload(t, h, body); err != nil {
		return err
	}

	if !t.complete() {
		return nil
	}

	t.completedAt = d.now()
	slot.parsed = t
	slot.partial = nil

	// Elect the newest completed version for this table id and promote it
	// if it differs from the currently active table.
	winner := slot.parsed
	for i := range slots {
		c := slots[i].parsed
		if c == nil || c == winner {
			continue
		}
		winner = newerTable(winner, c)
	}
	if cur := d.active[h.tableID]; cur != winner {
		d.promote(cur, winner)
	}
	return nil
}

// newerTable picks the newer of two completed tables: by completion time
// when they are further apart than tableAgeThreshold, by version number
// otherwise.
func newerTable(a, b *Table) *Table {
	gap := b.completedAt.Sub(a.completedAt)
	if gap > tableAgeThreshold {
		return b
	}
	if gap < -tableAgeThreshold {
		return a
	}
	if b.Version > a.Version {
		return b
	}
	return a
}

// promote installs t as the active table for its id and applies the
// table-specific filter side effects.
func (d *Demuxer) promote(old, t *Table) {
	d.active[t.TableID] = t
	d.log.Debug("table promoted",
		"table_id", t.TableID, "version", t.Version, "ext", t.TableIDExt)

	switch {
	case t.PAT != nil:
		d.syncFilters(patPIDs(old), patPIDs(t), filterSection)
	case t.PMT != nil:
		d.syncFilters(pmtPIDs(old), pmtPIDs(t), filterPES)
	}

	if d.onTable != nil {
		d.onTable(t)
	}
}

func patPIDs(t *Table) []uint16 {
	if t == nil || t.PAT == nil {
		return nil
	}
	pids := make([]uint16, 0, len(t.PAT.Programs))
	for _, p := range t.PAT.Programs {
		pids = append(pids, p.PID)
	}
	return pids
}

func pmtPIDs(t *Table) []uint16 {
	if t == nil || t.PMT == nil {
		return nil
	}
	pids := make([]uint16, 0, len(t.PMT.Streams))
	for _, s := range t.PMT.Streams {
		pids = append(pids, s.PID)
	}
	return pids
}

// syncFilters registers a fresh filter for every PID referenced by the new
// table (replacing any existing context, in-flight state included) and
// destroys filters for PIDs only the old table referenced.
func (d *Demuxer) syncFilters(oldPIDs, newPIDs []uint16, kind filterKind) {
	keep := make(map[uint16]bool, len(newPIDs))
	for _, pid := range newPIDs {
		keep[pid] = true
		d.filters[pid] = newFilter(pid, kind)
	}
	for _, pid := range oldPIDs {
		if !keep[pid] {
			d.filters[pid] = nil
		}
	}
}

package demux

import (
	"errors"
	"testing"
	"time"

	"github.com/zsiec/tsdemux/mpegts"
)

func TestParsePMT_StreamsAndDescriptors(t *testing.T) {
	t.Parallel()

	iso639 := descriptor(DescriptorTagISO639Language, 'e', 'n', 'g', 0x00)
	d := New()
	feedSection(t, d, PIDPAT, 0, patSection(1, 0, PATProgram{ProgramNumber: 5, PID: 0x0100}))
	feedSection(t, d, 0x0100, 0, pmtSection(5, 0, 0x0101,
		esEntry{typ: StreamTypeH264, pid: 0x0101},
		esEntry{typ: StreamTypeAACADTS, pid: 0x0102, descs: iso639},
	))

	tbl := d.Table(TableIDPMT)
	if tbl == nil {
		t.Fatal("no active PMT")
	}
	pmt := tbl.PMT
	if pmt.ProgramNumber != 5 || pmt.PCRPID != 0x0101 {
		t.Errorf("got program %d PCR PID 0x%04X, want 5 and 0x0101", pmt.ProgramNumber, pmt.PCRPID)
	}
	if len(pmt.Streams) != 2 {
		t.Fatalf("got %d streams, want 2", len(pmt.Streams))
	}
	if pmt.Streams[0].Type != StreamTypeH264 || pmt.Streams[0].PID != 0x0101 {
		t.Errorf("stream 0: got %v on 0x%04X", pmt.Streams[0].Type, pmt.Streams[0].PID)
	}
	audio := pmt.Streams[1]
	if audio.Type != StreamTypeAACADTS || audio.PID != 0x0102 {
		t.Errorf("stream 1: got %v on 0x%04X", audio.Type, audio.PID)
	}
	if len(audio.Descriptors) != 1 || audio.Descriptors[0].ISO639Language == nil {
		t.Fatalf("audio descriptors: %+v", audio.Descriptors)
	}
	lang := audio.Descriptors[0].ISO639Language.Entries
	if len(lang) != 1 || lang[0].Language != "eng" {
		t.Errorf("got languages %+v, want [eng]", lang)
	}
}

func TestParseSDT_ServiceEntries(t *testing.T) {
	t.Parallel()

	body := sdtBody(0x00FF,
		sdtEntry{serviceID: 0x1001, running: Running, descs: serviceDescriptor(0x01, "ACME", "News HD")},
		sdtEntry{serviceID: 0x1002, running: RunningNot},
	)
	d := New()
	feedSection(t, d, PIDSDT, 0, mpegts.BuildSection(TableIDSDT, 0x0044, 0, 0, 0, body))

	tbl := d.Table(TableIDSDT)
	if tbl == nil {
		t.Fatal("no active SDT")
	}
	sdt := tbl.SDT
	if sdt.TransportStreamID != 0x0044 || sdt.OriginalNetworkID != 0x00FF {
		t.Errorf("got TSID 0x%04X ONID 0x%04X", sdt.TransportStreamID, sdt.OriginalNetworkID)
	}
	if len(sdt.Services) != 2 {
		t.Fatalf("got %d services, want 2", len(sdt.Services))
	}
	svc := sdt.Services[0]
	if svc.ServiceID != 0x1001 || svc.RunningStatus != Running || !svc.EITPresentFollowing {
		t.Errorf("service 0: %+v", svc)
	}
	if len(svc.Descriptors) != 1 || svc.Descriptors[0].Service == nil {
		t.Fatalf("service 0 descriptors: %+v", svc.Descriptors)
	}
	sd := svc.Descriptors[0].Service
	if sd.Provider != "ACME" || sd.Name != "News HD" {
		t.Errorf("got provider %q name %q", sd.Provider, sd.Name)
	}
	if sdt.Services[1].RunningStatus != RunningNot {
		t.Errorf("service 1 running status: %v", sdt.Services[1].RunningStatus)
	}
}

func TestParseEIT_EventTimes(t *testing.T) {
	t.Parallel()

	short := descriptor(DescriptorTagShortEvent,
		'e', 'n', 'g', 4, 'S', 'h', 'o', 'w', 0)
	body := eitBody(0x0044, 0x00FF,
		eitEventEntry(0x0001, mjd58484, 18, 30, 0, 1, 45, 0, Running, short),
	)
	d := New()
	feedSection(t, d, PIDEIT, 0, mpegts.BuildSection(TableIDEIT, 0x1001, 0, 0, 0, body))

	tbl := d.Table(TableIDEIT)
	if tbl == nil {
		t.Fatal("no active EIT")
	}
	eit := tbl.EIT
	if eit.ServiceID != 0x1001 || eit.TransportStreamID != 0x0044 || eit.OriginalNetworkID != 0x00FF {
		t.Errorf("EIT ids: %+v", eit)
	}
	if len(eit.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(eit.Events))
	}
	ev := eit.Events[0]
	wantStart := time.Date(2019, time.January, 1, 18, 30, 0, 0, time.UTC)
	if !ev.StartTime.Equal(wantStart) {
		t.Errorf("got start %v, want %v", ev.StartTime, wantStart)
	}
	if want := time.Hour + 45*time.Minute; ev.Duration != want {
		t.Errorf("got duration %v, want %v", ev.Duration, want)
	}
	if len(ev.Descriptors) != 1 || ev.Descriptors[0].ShortEvent == nil {
		t.Fatalf("event descriptors: %+v", ev.Descriptors)
	}
	if ev.Descriptors[0].ShortEvent.Name != "Show" {
		t.Errorf("got event name %q", ev.Descriptors[0].ShortEvent.Name)
	}
}

func TestParseNIT_Transports(t *testing.T) {
	t.Parallel()

	name := descriptor(DescriptorTagNetworkName, 'N', 'e', 't')
	tsDescs := descriptor(DescriptorTagServiceList, 0x10, 0x01, 0x01)
	body := []byte{
		0xF0 | byte(len(name)>>8), byte(len(name)),
	}
	body = append(body, name...)
	entry := []byte{
		0x00, 0x44, // transport stream id
		0x00, 0xFF, // original network id
		0xF0 | byte(len(tsDescs)>>8), byte(len(tsDescs)),
	}
	entry = append(entry, tsDescs...)
	body = append(body, 0xF0|byte(len(entry)>>8), byte(len(entry)))
	body = append(body, entry...)

	d := New()
	feedSection(t, d, PIDNIT, 0, mpegts.BuildSection(TableIDNIT, 0x0001, 0, 0, 0, body))

	tbl := d.Table(TableIDNIT)
	if tbl == nil {
		t.Fatal("no active NIT")
	}
	nit := tbl.NIT
	if nit.NetworkID != 0x0001 {
		t.Errorf("got network id 0x%04X", nit.NetworkID)
	}
	if len(nit.Descriptors) != 1 || nit.Descriptors[0].NetworkName == nil ||
		nit.Descriptors[0].NetworkName.Name != "Net" {
		t.Fatalf("network descriptors: %+v", nit.Descriptors)
	}
	if len(nit.Transports) != 1 {
		t.Fatalf("got %d transports, want 1", len(nit.Transports))
	}
	tr := nit.Transports[0]
	if tr.TransportStreamID != 0x0044 || tr.OriginalNetworkID != 0x00FF {
		t.Errorf("transport ids: %+v", tr)
	}
	if len(tr.Descriptors) != 1 || tr.Descriptors[0].ServiceList == nil {
		t.Fatalf("transport descriptors: %+v", tr.Descriptors)
	}
}

func TestParseTOT_Time(t *testing.T) {
	t.Parallel()

	body := []byte{
		byte(mjd58484 >> 8), byte(mjd58484 & 0xFF), toBCD(12), toBCD(34), toBCD(56),
		0xF0, 0x00, // empty descriptor loop
	}
	d := New()
	feedSection(t, d, PIDTDT, 0, mpegts.BuildSection(TableIDTOT, 0, 0, 0, 0, body))

	tbl := d.Table(TableIDTOT)
	if tbl == nil {
		t.Fatal("no active TOT")
	}
	want := time.Date(2019, time.January, 1, 12, 34, 56, 0, time.UTC)
	if !tbl.TOT.UTCTime.Equal(want) {
		t.Errorf("got %v, want %v", tbl.TOT.UTCTime, want)
	}
}

func TestParsePAT_ProgramCap(t *testing.T) {
	t.Parallel()

	d := New(WithTableCaps(TableCaps{MaxPrograms: 1}))
	section := patSection(1, 0,
		PATProgram{ProgramNumber: 1, PID: 0x0100},
		PATProgram{ProgramNumber: 2, PID: 0x0200},
	)
	var err error
	for _, pkt := range mpegts.PacketizeSection(PIDPAT, 0, section) {
		err = d.AddPacket(pkt)
	}
	if !errors.Is(err, ErrTableFull) {
		t.Fatalf("got %v, want ErrTableFull", err)
	}
	if d.Table(TableIDPAT) != nil {
		t.Error("over-cap PAT became active")
	}
}

func TestParseTDTRST_LoggedOnly(t *testing.T) {
	t.Parallel()

	d := New()

	// A wire-format TDT: syntax 0, section length 5, UTC bytes in the
	// head's tail, no trailing CRC32.
	tdt := []byte{0x70, 0x70, 0x05, 0xE4, 0x74, 0x13, 0x35, 0x00}
	feedSection(t, d, PIDTDT, 0, tdt)

	// An RST with one event; also CRC-less.
	rst := []byte{0x71, 0x70, 0x0E, 0x00, 0x44, 0x01, 0x00, 0x00,
		0x00, 0x44, 0x00, 0xFF, 0x10, 0x01, 0x00, 0x01, 0x04}
	feedSection(t, d, PIDRST, 0, rst)

	// The stream keeps demuxing after the stubs.
	feedSection(t, d, PIDPAT, 0, patSection(1, 0, PATProgram{ProgramNumber: 1, PID: 0x0100}))
	if d.Table(TableIDPAT) == nil {
		t.Fatal("no active PAT after TDT/RST sections")
	}
}

func TestRunningStatusString(t *testing.T) {
	t.Parallel()

	if got := Running.String(); got != "running" {
		t.Errorf("got %q", got)
	}
	if got := RunningStatus(7).String(); got != "undefined" {
		t.Errorf("got %q", got)
	}
}

package ingest

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zsiec/tsdemux/mpegts"
)

// patPackets builds the transport packets of a single-program PAT.
func patPackets() [][]byte {
	body := []byte{0x00, 0x01, 0xE1, 0x00} // program 1 on PID 0x0100
	section := mpegts.BuildSection(0x00, 1, 0, 0, 0, body)
	return mpegts.PacketizeSection(0x0000, 0, section)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := NewRegistry(nil)

	stream, _ := r.Register("cam1")
	if got, ok := r.Get("cam1"); !ok || got != stream {
		t.Fatal("registered stream not retrievable")
	}
	if got := len(r.Snapshot()); got != 1 {
		t.Fatalf("got %d streams, want 1", got)
	}

	r.Unregister("cam1")
	if _, ok := r.Get("cam1"); ok {
		t.Fatal("stream still retrievable after unregister")
	}
	select {
	case <-stream.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after unregister")
	}
}

func TestRegistry_UnregisterUnknownKey(t *testing.T) {
	NewRegistry(nil).Unregister("absent")
}

func TestSession_DemuxesStream(t *testing.T) {
	r := NewRegistry(nil)
	stream, w := r.Register("cam1")
	defer r.Unregister("cam1")

	for _, pkt := range patPackets() {
		if _, err := w.Write(pkt); err != nil {
			t.Fatalf("pipe write: %v", err)
		}
		stream.RecordRead(len(pkt))
	}

	waitFor(t, "table promotion", func() bool {
		return stream.Stats().TablePromotions >= 1
	})

	stats := stream.Stats()
	if stats.PacketsDemuxed != 1 {
		t.Errorf("got %d packets demuxed, want 1", stats.PacketsDemuxed)
	}
	if stats.BytesReceived != mpegts.PacketLen || stats.ReadCount != 1 {
		t.Errorf("receive counters: %+v", stats)
	}
	if stats.DemuxErrors != 0 || stats.ContinuityError {
		t.Errorf("unexpected errors: %+v", stats)
	}
}

func TestSession_CountsDemuxErrors(t *testing.T) {
	r := NewRegistry(nil)
	stream, w := r.Register("cam1")
	defer r.Unregister("cam1")

	// A full packet without a sync byte fails parsing but must not end
	// the session.
	bad := make([]byte, mpegts.PacketLen)
	if _, err := w.Write(bad); err != nil {
		t.Fatalf("pipe write: %v", err)
	}
	waitFor(t, "demux error", func() bool {
		return stream.Stats().DemuxErrors >= 1
	})

	for _, pkt := range patPackets() {
		if _, err := w.Write(pkt); err != nil {
			t.Fatalf("pipe write: %v", err)
		}
	}
	waitFor(t, "recovery after bad packet", func() bool {
		return stream.Stats().TablePromotions >= 1
	})
}

func TestStream_RemoteAddr(t *testing.T) {
	r := NewRegistry(nil)
	stream, _ := r.Register("cam1")
	defer r.Unregister("cam1")

	if got := stream.Stats().RemoteAddr; got != "" {
		t.Errorf("got %q before SetRemoteAddr", got)
	}
	stream.SetRemoteAddr("203.0.113.9:4900")
	if got := stream.Stats().RemoteAddr; got != "203.0.113.9:4900" {
		t.Errorf("got %q", got)
	}
}

func TestCollector_Exports(t *testing.T) {
	r := NewRegistry(nil)
	stream, _ := r.Register("cam1")
	defer r.Unregister("cam1")
	stream.RecordRead(1316)

	promReg := prometheus.NewPedanticRegistry()
	if err := promReg.Register(NewCollector(r)); err != nil {
		t.Fatalf("register collector: %v", err)
	}

	families, err := promReg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	byName := make(map[string]bool, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = true
	}
	for _, want := range []string{
		"tsdemux_ingest_active_streams",
		"tsdemux_ingest_receive_bytes_total",
		"tsdemux_ingest_demuxed_packets_total",
		"tsdemux_ingest_continuity_error",
	} {
		if !byName[want] {
			t.Errorf("metric %s not exported; got %v", want, byName)
		}
	}
}

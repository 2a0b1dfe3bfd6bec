// Package ingest couples raw MPEG-TS byte sources with demux sessions:
// each registered stream gets an io.Pipe whose reader side drives a
// dedicated Demuxer, plus connection-level counters for monitoring.
package ingest

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/tsdemux/demux"
	"github.com/zsiec/tsdemux/mpegts"
)

// readChunk sizes session reads: 7 TS packets, the standard SRT payload.
const readChunk = 188 * 7 * 10

// Stats captures connection- and demux-level counters for one stream.
type Stats struct {
	BytesReceived   int64  `json:"bytesReceived"`
	ReadCount       int64  `json:"readCount"`
	PacketsDemuxed  int64  `json:"packetsDemuxed"`
	DemuxErrors     int64  `json:"demuxErrors"`
	TablePromotions int64  `json:"tablePromotions"`
	ContinuityError bool   `json:"continuityError"`
	ConnectedAt     int64  `json:"connectedAt"`
	UptimeMs        int64  `json:"uptimeMs"`
	RemoteAddr      string `json:"remoteAddr"`
}

// Stream represents one active ingest connection. Bytes written to the
// pipe by the receiver are demuxed by the session goroutine.
type Stream struct {
	Key       string
	StartedAt time.Time

	input io.ReadCloser
	pw    io.WriteCloser
	done  chan struct{}

	bytesReceived   atomic.Int64
	readCount       atomic.Int64
	packetsDemuxed  atomic.Int64
	demuxErrors     atomic.Int64
	tablePromotions atomic.Int64
	ccError         atomic.Bool
	remoteAddr      atomic.Value
}

// RecordRead increments the byte and read counters, called by the
// receiver after each successful socket read.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the remote address for diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Done is closed when the stream is unregistered and its session drained.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Stats returns a snapshot of the stream's counters.
func (s *Stream) Stats() Stats {
	addr, _ := s.remoteAddr.Load().(string)
	return Stats{
		BytesReceived:   s.bytesReceived.Load(),
		ReadCount:       s.readCount.Load(),
		PacketsDemuxed:  s.packetsDemuxed.Load(),
		DemuxErrors:     s.demuxErrors.Load(),
		TablePromotions: s.tablePromotions.Load(),
		ContinuityError: s.ccError.Load(),
		ConnectedAt:     s.StartedAt.UnixMilli(),
		UptimeMs:        time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:      addr,
	}
}

// Registry tracks active ingest streams by key and runs one demux session
// per stream. It is the rendezvous point between receivers (SRT, file
// replay) and the demux layer.
type Registry struct {
	log       *slog.Logger
	demuxOpts []demux.Option

	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry creates a Registry. Registered streams are demuxed with the
// given options plus a per-stream logger. If log is nil, slog.Default()
// is used.
func NewRegistry(log *slog.Logger, demuxOpts ...demux.Option) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:       log.With("component", "ingest"),
		demuxOpts: demuxOpts,
		streams:   make(map[string]*Stream),
	}
}

// Register creates a new ingest stream with the given key, returning the
// Stream and the Writer the receiver should write transport bytes into.
// The demux session starts immediately on a background goroutine.
func (r *Registry) Register(key string) (*Stream, io.Writer) {
	pr, pw := io.Pipe()

	stream := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		input:     pr,
		pw:        pw,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	r.streams[key] = stream
	r.mu.Unlock()

	go r.runSession(stream)

	return stream, pw
}

// Unregister removes a stream by key and closes its pipe, ending the
// session.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	stream, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if ok {
		stream.pw.Close()
	}
}

// Get returns the Stream for the given key, or false if not found.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// Snapshot returns the current streams.
func (r *Registry) Snapshot() []*Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	return out
}

// runSession drains the stream's pipe through a dedicated Demuxer until
// the pipe closes. Demux errors are counted and logged, never fatal to
// the session; the stream may recover on the next unit boundary.
func (r *Registry) runSession(s *Stream) {
	defer close(s.done)

	log := r.log.With("stream_key", s.Key)
	opts := append([]demux.Option{
		demux.WithPacketSize(mpegts.Size188),
		demux.WithLogger(log),
		demux.WithTableFunc(func(t *demux.Table) {
			s.tablePromotions.Add(1)
			log.Info("table promoted", "table_id", t.TableID, "version", t.Version)
		}),
	}, r.demuxOpts...)
	d := demux.New(opts...)

	buf := make([]byte, readChunk)
	var pending []byte
	for {
		n, err := s.input.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			whole := len(pending) / mpegts.PacketLen * mpegts.PacketLen
			if whole > 0 {
				if derr := d.AddBuffer(pending[:whole]); derr != nil {
					s.demuxErrors.Add(1)
					log.Debug("demux error", "error", derr)
				}
				s.packetsDemuxed.Add(int64(whole / mpegts.PacketLen))
				pending = pending[whole:]
			}
			s.ccError.Store(d.ContinuityError())
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				log.Debug("session read error", "error", err)
			}
			return
		}
	}
}

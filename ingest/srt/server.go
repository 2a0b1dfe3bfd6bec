// Package srt accepts SRT publish connections and feeds their transport
// bytes into the ingest registry.
package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/tsdemux/ingest"
)

// readBufferSize holds ten SRT payloads of 1316 bytes (7 TS packets each).
const readBufferSize = 1316 * 10

// latencyNs is the SRT receive latency in nanoseconds (120ms).
const latencyNs = 120_000_000

// Server accepts incoming SRT publish connections and registers each one
// as an ingest stream, keyed by the publisher's stream id.
type Server struct {
	log      *slog.Logger
	addr     string
	registry *ingest.Registry
}

// NewServer creates an SRT server listening on addr. Accepted streams are
// registered with registry, which owns their demux sessions. If log is
// nil, slog.Default() is used.
func NewServer(addr string, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		registry: registry,
	}
}

// Start accepts publish connections until the context is cancelled.
// Connections without a stream id are rejected at handshake time.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			s.log.Debug("rejecting connection without stream id", "remote", req.RemoteAddr)
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

// serveConn pumps one publisher's bytes into its ingest stream until the
// connection drops or the server shuts down.
func (s *Server) serveConn(ctx context.Context, conn *srtgo.Conn) {
	defer conn.Close()

	key := StreamKey(conn.StreamID())
	log := s.log.With("stream_key", key, "remote", conn.RemoteAddr())
	log.Info("publish started")

	stream, sink := s.registry.Register(key)
	stream.SetRemoteAddr(conn.RemoteAddr().String())
	defer s.registry.Unregister(key)

	if err := s.drain(ctx, conn, stream, sink); err != nil {
		log.Debug("publish ended with error", "error", err)
	}

	stats := stream.Stats()
	log.Info("publish ended",
		"bytes", stats.BytesReceived, "packets", stats.PacketsDemuxed,
		"promotions", stats.TablePromotions, "uptime_ms", stats.UptimeMs)
}

func (s *Server) drain(ctx context.Context, conn *srtgo.Conn, stream *ingest.Stream, sink io.Writer) error {
	buf := make([]byte, readBufferSize)
	for ctx.Err() == nil {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		stream.RecordRead(n)
		if _, err := sink.Write(buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

// StreamKey normalizes a publisher's stream id into an ingest key,
// stripping the conventional "live/" path prefix. Empty ids map to
// "default", though the accept hook rejects those before this runs.
func StreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}

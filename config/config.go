// Package config loads the tsdump TOML configuration, overlaying file
// values on built-in defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/zsiec/tsdemux/demux"
	"github.com/zsiec/tsdemux/mpegts"
)

// Config is the top-level tsdump configuration.
type Config struct {
	App   AppConfig
	Demux DemuxConfig
}

// AppConfig configures the server surfaces.
type AppConfig struct {
	SRTAddress     string
	MetricsAddress string
	Archive        bool
}

// DemuxConfig configures the demuxers created for each input.
type DemuxConfig struct {
	// PacketSize fixes the stride (188, 192, or 204); 0 auto-detects.
	PacketSize     int
	MaxPrograms    int
	MaxStreams     int
	MaxServices    int
	MaxEvents      int
	MaxTransports  int
	MaxDescriptors int
}

// TableCaps converts the configured limits into demux table caps, keeping
// defaults for fields left zero.
func (dc DemuxConfig) TableCaps() demux.TableCaps {
	caps := demux.DefaultTableCaps()
	if dc.MaxPrograms > 0 {
		caps.MaxPrograms = dc.MaxPrograms
	}
	if dc.MaxStreams > 0 {
		caps.MaxStreams = dc.MaxStreams
	}
	if dc.MaxServices > 0 {
		caps.MaxServices = dc.MaxServices
	}
	if dc.MaxEvents > 0 {
		caps.MaxEvents = dc.MaxEvents
	}
	if dc.MaxTransports > 0 {
		caps.MaxTransports = dc.MaxTransports
	}
	if dc.MaxDescriptors > 0 {
		caps.MaxDescriptors = dc.MaxDescriptors
	}
	return caps
}

// DemuxOptions converts the demux section into demuxer options.
func (dc DemuxConfig) DemuxOptions() ([]demux.Option, error) {
	opts := []demux.Option{demux.WithTableCaps(dc.TableCaps())}
	switch dc.PacketSize {
	case 0:
	case 188:
		opts = append(opts, demux.WithPacketSize(mpegts.Size188))
	case 192:
		opts = append(opts, demux.WithPacketSize(mpegts.Size192))
	case 204:
		opts = append(opts, demux.WithPacketSize(mpegts.Size204))
	default:
		return nil, fmt.Errorf("unsupported packet size %d", dc.PacketSize)
	}
	return opts, nil
}

// Parse tries to read and parse a config file from paths in order,
// returning defaults if none exists.
func Parse(paths []string) (*Config, error) {
	config := Config{
		App: AppConfig{
			SRTAddress:     ":6000",
			MetricsAddress: ":9091",
		},
	}

	var data []byte
	var err error
	for _, path := range paths {
		data, err = os.ReadFile(path)
		if err == nil {
			slog.Info("read config", "path", path)
			break
		}
		if os.IsNotExist(err) {
			continue
		}
		return nil, err
	}

	if data != nil {
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, err
		}
	} else {
		slog.Info("config file not found, using defaults")
	}

	return &config, nil
}

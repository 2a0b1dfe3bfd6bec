// Command tsdump inspects MPEG transport streams. With file arguments it
// demuxes each file and prints the active PSI tables; with none it runs
// an SRT listener that demuxes incoming streams and exports Prometheus
// metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tsdemux/config"
	"github.com/zsiec/tsdemux/demux"
	"github.com/zsiec/tsdemux/ingest"
	srtingest "github.com/zsiec/tsdemux/ingest/srt"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "tsdump.toml", "path to config file")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	conf, err := config.Parse([]string{*configPath, "/etc/tsdump/config.toml"})
	if err != nil {
		slog.Error("failed to parse config", "error", err)
		os.Exit(1)
	}
	demuxOpts, err := conf.Demux.DemuxOptions()
	if err != nil {
		slog.Error("invalid demux config", "error", err)
		os.Exit(1)
	}

	if flag.NArg() > 0 {
		if err := dumpFiles(flag.Args(), conf, demuxOpts); err != nil {
			slog.Error("dump failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := serve(conf, demuxOpts); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func dumpFiles(paths []string, conf *config.Config, demuxOpts []demux.Option) error {
	for _, path := range paths {
		opts := append([]demux.Option(nil), demuxOpts...)
		if conf.App.Archive {
			opts = append(opts, demux.WithArchive())
		}
		d := demux.New(opts...)

		if err := d.AddFile(path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		fmt.Printf("== %s (packet size %s)\n", path, d.PacketSize())
		printTables(d)
		fmt.Println("-- state")
		d.DumpState(os.Stdout)
	}
	return nil
}

func printTables(d *demux.Demuxer) {
	for _, t := range d.Tables() {
		switch {
		case t.PAT != nil:
			fmt.Printf("PAT ts_id=%d version=%d\n", t.PAT.TransportStreamID, t.Version)
			for _, p := range t.PAT.Programs {
				fmt.Printf("  program %d -> PID 0x%04X\n", p.ProgramNumber, p.PID)
			}
		case t.PMT != nil:
			fmt.Printf("PMT program=%d version=%d pcr_pid=0x%04X\n",
				t.PMT.ProgramNumber, t.Version, t.PMT.PCRPID)
			for _, s := range t.PMT.Streams {
				fmt.Printf("  stream %s PID 0x%04X\n", s.Type, s.PID)
			}
		case t.SDT != nil:
			fmt.Printf("SDT ts_id=%d version=%d\n", t.SDT.TransportStreamID, t.Version)
			for _, s := range t.SDT.Services {
				name := ""
				for _, desc := range s.Descriptors {
					if desc.Service != nil {
						name = desc.Service.Name
					}
				}
				fmt.Printf("  service %d %q %s\n", s.ServiceID, name, s.RunningStatus)
			}
		case t.EIT != nil:
			fmt.Printf("EIT service=%d version=%d events=%d\n",
				t.EIT.ServiceID, t.Version, len(t.EIT.Events))
		case t.TOT != nil:
			fmt.Printf("TOT utc=%s\n", t.TOT.UTCTime.Format(time.RFC3339))
		}
	}
}

func serve(conf *config.Config, demuxOpts []demux.Option) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("tsdump starting",
		"version", version,
		"srt", conf.App.SRTAddress,
		"metrics", conf.App.MetricsAddress,
	)

	registry := ingest.NewRegistry(nil, demuxOpts...)
	srtSrv := srtingest.NewServer(conf.App.SRTAddress, registry, nil)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(ingest.NewCollector(registry))
	metricsSrv := &http.Server{
		Addr:    conf.App.MetricsAddress,
		Handler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srtSrv.Start(ctx)
	})
	g.Go(func() error {
		err := metricsSrv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

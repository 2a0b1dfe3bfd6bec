package ingest

import "github.com/prometheus/client_golang/prometheus"

// MetricsNamespace prefixes all exported metric names.
const MetricsNamespace = "tsdemux"

const ingestSubsystem = "ingest"

var (
	activeStreamsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(MetricsNamespace, ingestSubsystem, "active_streams"),
		"The number of active ingest streams",
		nil, nil,
	)

	bytesReceivedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(MetricsNamespace, ingestSubsystem, "receive_bytes_total"),
		"total number of received bytes",
		[]string{"stream_key"}, nil,
	)

	readsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(MetricsNamespace, ingestSubsystem, "reads_total"),
		"total number of socket reads",
		[]string{"stream_key"}, nil,
	)

	packetsDemuxedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(MetricsNamespace, ingestSubsystem, "demuxed_packets_total"),
		"total number of transport packets fed to the demuxer",
		[]string{"stream_key"}, nil,
	)

	demuxErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(MetricsNamespace, ingestSubsystem, "demux_errors_total"),
		"total number of demux errors (malformed or unsupported units)",
		[]string{"stream_key"}, nil,
	)

	tablePromotionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(MetricsNamespace, ingestSubsystem, "table_promotions_total"),
		"total number of PSI table versions promoted to active",
		[]string{"stream_key"}, nil,
	)

	continuityErrorDesc = prometheus.NewDesc(
		prometheus.BuildFQName(MetricsNamespace, ingestSubsystem, "continuity_error"),
		"whether a continuity-counter gap was observed (sticky, per stream)",
		[]string{"stream_key"}, nil,
	)
)

// Collector exports live Registry counters as Prometheus metrics.
type Collector struct {
	registry *Registry
}

// NewCollector creates a Collector reading from registry.
func NewCollector(registry *Registry) *Collector {
	return &Collector{registry: registry}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- activeStreamsDesc
	ch <- bytesReceivedDesc
	ch <- readsDesc
	ch <- packetsDemuxedDesc
	ch <- demuxErrorsDesc
	ch <- tablePromotionsDesc
	ch <- continuityErrorDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	streams := c.registry.Snapshot()
	ch <- prometheus.MustNewConstMetric(activeStreamsDesc, prometheus.GaugeValue, float64(len(streams)))

	for _, s := range streams {
		stats := s.Stats()
		ccError := 0.0
		if stats.ContinuityError {
			ccError = 1.0
		}
		ch <- prometheus.MustNewConstMetric(bytesReceivedDesc, prometheus.CounterValue, float64(stats.BytesReceived), s.Key)
		ch <- prometheus.MustNewConstMetric(readsDesc, prometheus.CounterValue, float64(stats.ReadCount), s.Key)
		ch <- prometheus.MustNewConstMetric(packetsDemuxedDesc, prometheus.CounterValue, float64(stats.PacketsDemuxed), s.Key)
		ch <- prometheus.MustNewConstMetric(demuxErrorsDesc, prometheus.CounterValue, float64(stats.DemuxErrors), s.Key)
		ch <- prometheus.MustNewConstMetric(tablePromotionsDesc, prometheus.CounterValue, float64(stats.TablePromotions), s.Key)
		ch <- prometheus.MustNewConstMetric(continuityErrorDesc, prometheus.GaugeValue, ccError, s.Key)
	}
}

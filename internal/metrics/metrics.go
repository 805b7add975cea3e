// Package metrics exposes Prometheus counters and gauges for the
// pipeline's accept/reject decisions and the process's own resource use.
package metrics

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
)

var (
	MessagesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cityfeed_messages_accepted_total",
		Help: "Total number of posts accepted and persisted.",
	})

	MessagesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cityfeed_messages_rejected_total",
		Help: "Total number of posts rejected, by category.",
	}, []string{"category"})

	RevealsServed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cityfeed_reveals_served_total",
		Help: "Total number of successful contact reveals.",
	})

	ReportsFiled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cityfeed_reports_filed_total",
		Help: "Total number of message/IP reports filed.",
	})

	RateLimitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cityfeed_rate_limit_rejections_total",
		Help: "Total number of rate-limit rejections, by class.",
	}, []string{"class"})

	ShadowbanActivations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cityfeed_shadowban_activations_total",
		Help: "Total number of shadowban activations, by reason.",
	}, []string{"reason"})

	BroadcastPublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cityfeed_broadcast_publish_failures_total",
		Help: "Total number of broadcast publish failures.",
	})

	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cityfeed_active_websocket_connections",
		Help: "Current number of WebSocket connections held by this instance.",
	})

	ProcessCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cityfeed_process_cpu_percent",
		Help: "Process CPU usage percentage, sampled from the OS.",
	})

	ProcessRSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cityfeed_process_rss_bytes",
		Help: "Process resident set size in bytes.",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesAccepted,
		MessagesRejected,
		RevealsServed,
		ReportsFiled,
		RateLimitRejections,
		ShadowbanActivations,
		BroadcastPublishFailures,
		ActiveConnections,
		ProcessCPUPercent,
		ProcessRSSBytes,
	)
}

// Collector periodically samples process-level resource gauges. Unlike
// the connection/message counters above (updated inline by their
// owning packages as events occur), CPU and RSS require a poll against
// the OS, so they get their own ticker loop.
type Collector struct {
	proc     *process.Process
	interval time.Duration
	stop     chan struct{}
}

func NewCollector(interval time.Duration) (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Collector{proc: proc, interval: interval, stop: make(chan struct{})}, nil
}

// Run samples the process gauges every interval until Stop is called.
func (c *Collector) Run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sample()
		case <-c.stop:
			return
		}
	}
}

func (c *Collector) Stop() { close(c.stop) }

func (c *Collector) sample() {
	if pct, err := c.proc.CPUPercent(); err == nil {
		ProcessCPUPercent.Set(pct)
	}
	if info, err := c.proc.MemoryInfo(); err == nil && info != nil {
		ProcessRSSBytes.Set(float64(info.RSS))
	}
}

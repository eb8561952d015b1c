package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records envelope traffic, remote calls and device sync ticks.
type SyncMetrics struct {
	published      *prometheus.CounterVec
	applied        *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	remoteRequests *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	syncTicks      *prometheus.CounterVec
	deviceStatus   *prometheus.GaugeVec
}

// NewSyncMetrics registers the sync metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_envelopes_published_total",
		Help: "Envelopes broadcast by this instance.",
	}, []string{"domain"})
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_envelopes_applied_total",
		Help: "Envelopes from other instances applied locally.",
	}, []string{"domain"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_envelopes_dropped_total",
		Help: "Envelopes ignored on receipt.",
	}, []string{"reason"})
	remoteRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_requests_total",
		Help: "Calls made to the remote cart/wishlist service.",
	}, []string{"op", "outcome"})
	remoteDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remote_request_duration_seconds",
		Help:    "Latency of remote cart/wishlist calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	syncTicks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "device_sync_ticks_total",
		Help: "Device reconciliation ticks by outcome.",
	}, []string{"outcome"})
	deviceStatus := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "device_sync_status",
		Help: "1 for the current device sync status, 0 otherwise.",
	}, []string{"status"})
	reg.MustRegister(published, applied, dropped, remoteRequests, remoteDuration, syncTicks, deviceStatus)
	return &SyncMetrics{
		published:      published,
		applied:        applied,
		dropped:        dropped,
		remoteRequests: remoteRequests,
		remoteDuration: remoteDuration,
		syncTicks:      syncTicks,
		deviceStatus:   deviceStatus,
	}
}

// IncPublished counts an envelope broadcast for domain.
func (m *SyncMetrics) IncPublished(domain string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(domain)).Inc()
}

// IncApplied counts an envelope applied from another instance.
func (m *SyncMetrics) IncApplied(domain string) {
	if m == nil || m.applied == nil {
		return
	}
	m.applied.WithLabelValues(normalizeLabel(domain)).Inc()
}

// IncDropped counts an envelope ignored for reason.
func (m *SyncMetrics) IncDropped(reason string) {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.WithLabelValues(normalizeLabel(reason)).Inc()
}

// ObserveRemote records one remote call.
func (m *SyncMetrics) ObserveRemote(op, outcome string, duration time.Duration) {
	if m == nil || m.remoteRequests == nil {
		return
	}
	m.remoteRequests.WithLabelValues(normalizeLabel(op), normalizeLabel(outcome)).Inc()
	m.remoteDuration.WithLabelValues(normalizeLabel(op)).Observe(duration.Seconds())
}

// IncSyncTick counts one device reconciliation tick.
func (m *SyncMetrics) IncSyncTick(outcome string) {
	if m == nil || m.syncTicks == nil {
		return
	}
	m.syncTicks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// SetDeviceStatus flips the status gauge so exactly one status reads 1.
func (m *SyncMetrics) SetDeviceStatus(current string, all []string) {
	if m == nil || m.deviceStatus == nil {
		return
	}
	for _, status := range all {
		value := 0.0
		if status == current {
			value = 1
		}
		m.deviceStatus.WithLabelValues(normalizeLabel(status)).Set(value)
	}
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

// Package metrics 暴露异常检测引擎的 Prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess 成功
	OutcomeSuccess = "success"
	// OutcomeError 失败
	OutcomeError = "error"
	// OutcomeCancelled 被调用方取消或超时
	OutcomeCancelled = "cancelled"
)

const namespace = "pg_pointage"

var (
	scansClassifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_classified_total",
			Help:      "Scans classified, partitioned by result (on_time, late, early_departure, out_of_schedule, ambiguous).",
		},
		[]string{"result"},
	)

	anomaliesUpsertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_upserted_total",
			Help:      "Anomaly upserts, partitioned by kind and whether a row was created or updated.",
		},
		[]string{"kind", "op"},
	)

	anomaliesResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_resolved_total",
			Help:      "Anomalies removed because they no longer hold.",
		},
		[]string{"kind"},
	)

	rescansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rescans_total",
			Help:      "Rescan runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	rescanDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rescan_seconds",
			Help:      "Rescan latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	lockWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "triple_lock_wait_seconds",
			Help:      "Time spent waiting for an (employee, site, date) lock.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		},
	)

	ingestRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rejected_total",
			Help:      "Scans rejected at ingest, partitioned by reason.",
		},
		[]string{"reason"},
	)
)

// Register 将全部指标注册到 reg；重复注册视为成功
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		scansClassifiedTotal,
		anomaliesUpsertedTotal,
		anomaliesResolvedTotal,
		rescansTotal,
		rescanDurationSeconds,
		lockWaitSeconds,
		ingestRejectedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveScan 记录一次分类结果
func ObserveScan(result string) {
	scansClassifiedTotal.WithLabelValues(result).Inc()
}

// ObserveUpsert 记录一次异常写入
func ObserveUpsert(kind string, created bool) {
	op := "updated"
	if created {
		op = "created"
	}
	anomaliesUpsertedTotal.WithLabelValues(kind, op).Inc()
}

// ObserveResolved 记录一次异常消解
func ObserveResolved(kind string) {
	anomaliesResolvedTotal.WithLabelValues(kind).Inc()
}

// ObserveRescan 记录一次重扫的耗时与结果
func ObserveRescan(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeError, OutcomeCancelled:
	default:
		outcome = OutcomeSuccess
	}
	rescansTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	rescanDurationSeconds.Observe(duration.Seconds())
}

// ObserveLockWait 记录等锁耗时
func ObserveLockWait(d time.Duration) {
	lockWaitSeconds.Observe(d.Seconds())
}

// ObserveRejected 记录一次录入拒绝
func ObserveRejected(reason string) {
	ingestRejectedTotal.WithLabelValues(reason).Inc()
}

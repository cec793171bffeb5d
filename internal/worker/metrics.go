package worker

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

const jobName = "novel_continuity_batches"

var (
	// Отдельный реестр для метрик пакетной обработки, отправляемых в Pushgateway
	registry = prometheus.NewRegistry()

	batchesTotal = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "continuity_batches_total",
			Help: "Total number of fan-out batches executed.",
		},
	)
	batchItemsTotal = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_batch_items_total",
			Help: "Batch inputs processed, partitioned by result.",
		},
		[]string{"result"},
	)
	retriesTotal = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "continuity_retries_total",
			Help: "Total number of retried operations.",
		},
	)
)

// Registry exposes the batch registry, e.g. to add it to the /metrics gatherers.
func Registry() *prometheus.Registry { return registry }

// MetricsPusher периодически отправляет метрики пакетной обработки в Pushgateway.
type MetricsPusher struct {
	pusher *push.Pusher
	logger *zap.Logger
	stop   chan struct{}
}

// NewMetricsPusher инициализирует клиент Pushgateway и делает пробную отправку.
func NewMetricsPusher(pushgatewayURL string, logger *zap.Logger) (*MetricsPusher, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	p := &MetricsPusher{
		pusher: push.New(pushgatewayURL, jobName).Gatherer(registry).Grouping("instance", instanceID),
		logger: logger.Named("MetricsPusher"),
		stop:   make(chan struct{}),
	}
	if err := p.pusher.Push(); err != nil {
		return nil, fmt.Errorf("could not push initial metrics to Pushgateway: %w", err)
	}
	p.logger.Info("Pushgateway pusher initialized", zap.String("url", pushgatewayURL), zap.String("instance", instanceID))
	return p, nil
}

// Start запускает периодическую отправку.
func (p *MetricsPusher) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				if err := p.pusher.Push(); err != nil {
					p.logger.Warn("Error pushing metrics to Pushgateway", zap.Error(err))
				}
			}
		}
	}()
}

// Close останавливает отправку и удаляет метрики инстанса из Pushgateway.
func (p *MetricsPusher) Close() {
	close(p.stop)
	if err := p.pusher.Delete(); err != nil {
		p.logger.Warn("Error deleting metrics from Pushgateway", zap.Error(err))
	}
}

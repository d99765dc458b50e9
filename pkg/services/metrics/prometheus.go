package metrics

import (
	"github.com/nspcc-dev/chainmux/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewPrometheusService creates a new service for gathering prometheus
// metrics from the default registry.
func NewPrometheusService(cfg config.BasicService, log *zap.Logger) *Service {
	return NewPrometheusServiceFor(prometheus.DefaultGatherer, cfg, log)
}

// NewPrometheusServiceFor is like NewPrometheusService, but serves metrics of
// the given Gatherer.
func NewPrometheusServiceFor(g prometheus.Gatherer, cfg config.BasicService, log *zap.Logger) *Service {
	if log == nil {
		return nil
	}

	// Share metrics between multiple prometheus handlers.
	handler := promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	return NewService("Prometheus", newServers(cfg.GetAddresses(), handler), cfg, log)
}

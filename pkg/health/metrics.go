package health

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationName = "github.com/proxymcpd/proxymcpd/pkg/health"

// Metrics exports the supervisor's computed state as OpenTelemetry
// instruments, scraped through the bundled Prometheus exporter.
type Metrics struct {
	sup *Supervisor

	restartsTotal metric.Int64Counter
	uptimeGauge   metric.Float64ObservableGauge
	healthyGauge  metric.Int64ObservableGauge
	memoryGauge   metric.Int64ObservableGauge
}

// NewMetrics registers the health supervisor's instruments against
// meterProvider (the process global provider if nil) and wires their
// observable callbacks to sup.Status().
func NewMetrics(meterProvider metric.MeterProvider, sup *Supervisor) (*Metrics, error) {
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	meter := meterProvider.Meter(instrumentationName)
	m := &Metrics{sup: sup}

	var err error
	m.restartsTotal, err = meter.Int64Counter(
		"proxymcpd.health.restarts.total",
		metric.WithDescription("Total automatic restart attempts triggered by the health supervisor"),
		metric.WithUnit("{restart}"),
	)
	if err != nil {
		return nil, err
	}

	m.uptimeGauge, err = meter.Float64ObservableGauge(
		"proxymcpd.health.uptime.percent",
		metric.WithDescription("Fraction of recent probe samples where all checks passed"),
		metric.WithUnit("%"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			o.Observe(m.sup.Status().UptimePercent)
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	m.healthyGauge, err = meter.Int64ObservableGauge(
		"proxymcpd.health.healthy",
		metric.WithDescription("1 if the engine is currently healthy, 0 otherwise"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			if m.sup.Status().Healthy {
				o.Observe(1)
			} else {
				o.Observe(0)
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	m.memoryGauge, err = meter.Int64ObservableGauge(
		"proxymcpd.health.memory.heap_bytes",
		metric.WithDescription("Most recently sampled heap size"),
		metric.WithUnit("By"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			st := m.sup.Status()
			var heap uint64
			m.sup.mu.Lock()
			if n := len(m.sup.history); n > 0 {
				heap = m.sup.history[n-1].heapBytes
			}
			m.sup.mu.Unlock()
			o.Observe(int64(heap), metric.WithAttributes(attribute.String("trend", string(st.MemoryTrend))))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	sup.OnRestartAttempt(func() { m.RecordRestartAttempt(context.Background()) })

	return m, nil
}

// RecordRestartAttempt increments the restart counter. Wired to the
// supervisor's restart-attempt callback by NewMetrics.
func (m *Metrics) RecordRestartAttempt(ctx context.Context) {
	m.restartsTotal.Add(ctx, 1)
}

// Provider bundles a Prometheus-backed OpenTelemetry meter provider with
// the health supervisor's instruments, mirroring the teacher's
// observability.Provider shape.
type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	Metrics       *Metrics
}

// NewProvider builds a Provider backed by a Prometheus exporter and
// registers sup's metrics against it.
func NewProvider(sup *Supervisor) (*Provider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)

	metrics, err := NewMetrics(mp, sup)
	if err != nil {
		return nil, err
	}
	return &Provider{MeterProvider: mp, Metrics: metrics}, nil
}

// PrometheusHandler returns the /metrics scrape endpoint.
func (p *Provider) PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// Shutdown releases the meter provider's resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.MeterProvider != nil {
		return p.MeterProvider.Shutdown(ctx)
	}
	return nil
}

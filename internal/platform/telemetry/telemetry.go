// Package telemetry exposes the server's Prometheus metrics: HTTP request
// timings plus counters for lab workflow and billing events.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lims"

type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "lims-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// Provider owns a private registry. All recording methods are safe on a
// nil *Provider so services can run without metrics.
type Provider struct {
	registry *prometheus.Registry

	httpDuration   *prometheus.HistogramVec
	activeRequests prometheus.Gauge
	documents      *prometheus.CounterVec
	labEvents      *prometheus.CounterVec
	invoiceEvents  *prometheus.CounterVec
	invoiceAmount  prometheus.Counter
	domainErrors   *prometheus.CounterVec
}

func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	constLabels := prometheus.Labels{"service": cfg.ServiceName, "env": cfg.Environment}

	p := &Provider{
		registry: prometheus.NewRegistry(),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "http_request_duration_seconds",
			Help:        "Duration of HTTP requests in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "http_active_requests",
			Help:        "Number of in-flight HTTP requests.",
			ConstLabels: constLabels,
		}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "document_numbers_issued_total",
			Help:        "Document numbers issued by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		labEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "lab_events_total",
			Help:        "Lab workflow events: requests created, technicians assigned, results recorded, tests completed.",
			ConstLabels: constLabels,
		}, []string{"event"}),
		invoiceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "invoice_events_total",
			Help:        "Invoice lifecycle events by payment status reached.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		invoiceAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "invoiced_net_total",
			Help:        "Sum of net totals of created invoices.",
			ConstLabels: constLabels,
		}),
		domainErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "domain_errors_total",
			Help:        "Expected domain errors returned to callers by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
	}

	buildLabels := prometheus.Labels{"service": cfg.ServiceName, "env": cfg.Environment, "version": cfg.ServiceVersion}
	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Always 1; labelled with the running version.",
		ConstLabels: buildLabels,
	})
	buildInfo.Set(1)

	p.registry.MustRegister(
		buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.httpDuration, p.activeRequests, p.documents,
		p.labEvents, p.invoiceEvents, p.invoiceAmount, p.domainErrors,
	)
	return p
}

// Registry exposes the registry for extra collectors such as pool gauges.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Provider) DocumentIssued(kind string) {
	if p == nil {
		return
	}
	p.documents.WithLabelValues(kind).Inc()
}

// LabEvent counts one workflow event, e.g. "request_created".
func (p *Provider) LabEvent(event string) {
	if p == nil {
		return
	}
	p.labEvents.WithLabelValues(event).Inc()
}

func (p *Provider) InvoiceEvent(status string) {
	if p == nil {
		return
	}
	p.invoiceEvents.WithLabelValues(status).Inc()
}

func (p *Provider) InvoiceCreated(netTotal float64) {
	if p == nil {
		return
	}
	p.invoiceEvents.WithLabelValues("PENDING").Inc()
	p.invoiceAmount.Add(netTotal)
}

func (p *Provider) DomainError(kind string) {
	if p == nil {
		return
	}
	p.domainErrors.WithLabelValues(kind).Inc()
}

// GaugeFunc registers a gauge sampled at scrape time.
func (p *Provider) GaugeFunc(name, help string, fn func() float64) {
	p.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// MetricsMiddleware records the duration of every request by its route
// pattern.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.activeRequests.Inc()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			p.activeRequests.Dec()
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			p.httpDuration.WithLabelValues(c.Request().Method, route, strconv.Itoa(c.Response().Status)).
				Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// PrometheusHandler serves the registry in the Prometheus text format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

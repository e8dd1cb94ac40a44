package metrics

import (
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jedi"

// Registry lazily creates one vector per group/name pair.
type Registry struct {
	reg        *prometheus.Registry
	mu         sync.RWMutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewRegistry creates a registry with the Go runtime and process collectors installed.
func NewRegistry() *Registry {
	r := &Registry{
		reg:        prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func fqName(group, name string) string {
	return prometheus.BuildFQName(namespace, strings.ReplaceAll(group, ".", "_"), name)
}

func labelNames(dim Dimension) []string {
	names := make([]string, 0, len(dim))
	for k := range dim {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

func report(fq string, err error) {
	fmt.Fprintf(os.Stderr, "metrics: %s: %v\n", fq, err)
}

func (r *Registry) counter(group, name string, dim Dimension) prometheus.Counter {
	fq := fqName(group, name)
	names := labelNames(dim)

	r.mu.RLock()
	vec, ok := r.counters[fq]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if vec, ok = r.counters[fq]; !ok {
			vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: fq, Help: group + " " + name}, names)
			if err := r.reg.Register(vec); err != nil {
				r.mu.Unlock()
				report(fq, err)
				return nil
			}
			r.counters[fq] = vec
		}
		r.mu.Unlock()
	}

	c, err := vec.GetMetricWith(prometheus.Labels(dim))
	if err != nil {
		report(fq, err)
		return nil
	}
	return c
}

func (r *Registry) gauge(group, name string, dim Dimension) prometheus.Gauge {
	fq := fqName(group, name)
	names := labelNames(dim)

	r.mu.RLock()
	vec, ok := r.gauges[fq]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if vec, ok = r.gauges[fq]; !ok {
			vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: fq, Help: group + " " + name}, names)
			if err := r.reg.Register(vec); err != nil {
				r.mu.Unlock()
				report(fq, err)
				return nil
			}
			r.gauges[fq] = vec
		}
		r.mu.Unlock()
	}

	g, err := vec.GetMetricWith(prometheus.Labels(dim))
	if err != nil {
		report(fq, err)
		return nil
	}
	return g
}

func (r *Registry) histogram(group, name string, dim Dimension) prometheus.Observer {
	fq := fqName(group, name)
	names := labelNames(dim)

	r.mu.RLock()
	vec, ok := r.histograms[fq]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		if vec, ok = r.histograms[fq]; !ok {
			vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    fq,
				Help:    group + " " + name,
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			}, names)
			if err := r.reg.Register(vec); err != nil {
				r.mu.Unlock()
				report(fq, err)
				return nil
			}
			r.histograms[fq] = vec
		}
		r.mu.Unlock()
	}

	h, err := vec.GetMetricWith(prometheus.Labels(dim))
	if err != nil {
		report(fq, err)
		return nil
	}
	return h
}

// IncrCounter adds v, which must not be negative.
func (r *Registry) IncrCounter(group, name string, v Value, dim Dimension) {
	if v < 0 {
		return
	}
	if c := r.counter(group, name, dim); c != nil {
		c.Add(float64(v))
	}
}

func (r *Registry) UpdateGauge(group, name string, v Value, dim Dimension) {
	if g := r.gauge(group, name, dim); g != nil {
		g.Set(float64(v))
	}
}

func (r *Registry) ObserveHistogram(group, name string, v Value, dim Dimension) {
	if h := r.histogram(group, name, dim); h != nil {
		h.Observe(float64(v))
	}
}

// Handler serves the registry in the prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

var defaultRegistry = NewRegistry()

// Default returns the registry behind the package level functions.
func Default() *Registry {
	return defaultRegistry
}

func IncrCounterWithGroup(group, name string, v Value) {
	defaultRegistry.IncrCounter(group, name, v, nil)
}

func IncrCounterWithDimGroup(group, name string, v Value, dim Dimension) {
	defaultRegistry.IncrCounter(group, name, v, dim)
}

func UpdateGaugeWithGroup(group, name string, v Value) {
	defaultRegistry.UpdateGauge(group, name, v, nil)
}

func UpdateGaugeWithDimGroup(group, name string, v Value, dim Dimension) {
	defaultRegistry.UpdateGauge(group, name, v, dim)
}

func ObserveHistogramWithGroup(group, name string, v Value) {
	defaultRegistry.ObserveHistogram(group, name, v, nil)
}

// RecordStopwatchWithGroup observes the seconds elapsed since start.
func RecordStopwatchWithGroup(group, name string, start time.Time) {
	defaultRegistry.ObserveHistogram(group, name, Value(time.Since(start).Seconds()), nil)
}

func RecordStopwatchWithDimGroup(group, name string, start time.Time, dim Dimension) {
	defaultRegistry.ObserveHistogram(group, name, Value(time.Since(start).Seconds()), dim)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return defaultRegistry.Handler()
}

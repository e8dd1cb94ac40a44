// Package metrics records counters, gauges and timings into a private prometheus registry.
package metrics

// Value is a metric sample.
type Value float64

// Dimension adds labels to a metric. Every call for the same metric must use the same keys.
type Dimension map[string]string

package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

type recordedMetric struct {
	name   string
	value  float64
	labels map[string]string
}

// captureCollector is a ports.MetricsCollector that keeps every sample.
type captureCollector struct {
	mu         sync.Mutex
	counters   []recordedMetric
	histograms []recordedMetric
	gauges     []recordedMetric
}

func (c *captureCollector) RecordLatency(operation string, d time.Duration, labels map[string]string) {
	c.RecordHistogram(operation, d.Seconds(), labels)
}

func (c *captureCollector) RecordCounter(metric string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = append(c.counters, recordedMetric{metric, value, labels})
}

func (c *captureCollector) RecordGauge(metric string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges = append(c.gauges, recordedMetric{metric, value, labels})
}

func (c *captureCollector) RecordHistogram(metric string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.histograms = append(c.histograms, recordedMetric{metric, value, labels})
}

func (c *captureCollector) countersNamed(name string) []recordedMetric {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []recordedMetric
	for _, m := range c.counters {
		if m.name == name {
			out = append(out, m)
		}
	}
	return out
}

type mockCircuitBreakerMetrics struct {
	mu        sync.Mutex
	states    []CircuitBreakerState
	trips     int
	successes int
	failures  int
}

func (m *mockCircuitBreakerMetrics) RecordState(state CircuitBreakerState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
}

func (m *mockCircuitBreakerMetrics) RecordTrip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips++
}

func (m *mockCircuitBreakerMetrics) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes++
}

func (m *mockCircuitBreakerMetrics) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

// mapCache is a ports.CacheStore over a map. Setting failGet or failSet
// makes the corresponding operation return an error.
type mapCache struct {
	mu      sync.Mutex
	data    map[string]any
	failGet bool
	failSet bool
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string]any)} }

func (c *mapCache) Get(_ context.Context, key string) (any, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, false, errors.New("cache unavailable")
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSet {
		return errors.New("cache unavailable")
	}
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *mapCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.data)
	return nil
}

func (c *mapCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Package metrics keeps process-local counters for diagnostics. Values
// surface through the /status chat command and `gigabot status`; there
// is no exporter endpoint.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector.
var Collector = NewCollector()

type MetricsCollector struct {
	counters  sync.Map // name -> *Counter
	gauges    sync.Map // name -> *Gauge
	startTime time.Time
}

func NewCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name string) *Counter {
	if v, ok := c.counters.Load(name); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(name, &Counter{name: name})
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name string) *Gauge {
	if v, ok := c.gauges.Load(name); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(name, &Gauge{name: name})
	return actual.(*Gauge)
}

// Snapshot returns all current values sorted by name.
func (c *MetricsCollector) Snapshot() []Value {
	var values []Value
	c.counters.Range(func(_, v any) bool {
		ctr := v.(*Counter)
		values = append(values, Value{Name: ctr.name, Value: ctr.Value()})
		return true
	})
	c.gauges.Range(func(_, v any) bool {
		g := v.(*Gauge)
		values = append(values, Value{Name: g.name, Value: g.Value()})
		return true
	})
	sort.Slice(values, func(i, j int) bool { return values[i].Name < values[j].Name })
	return values
}

type Value struct {
	Name  string
	Value int64
}

// Metrics tracked across the application.
var (
	MessagesIn       = Collector.Counter("messages_in")
	MessagesOut      = Collector.Counter("messages_out")
	MessagesDropped  = Collector.Counter("messages_dropped")
	ProviderRequests = Collector.Counter("provider_requests")
	ToolExecutions   = Collector.Counter("tool_executions")
	SubagentsSpawned = Collector.Counter("subagents_spawned")
	ActiveSubagents  = Collector.Gauge("active_subagents")
)

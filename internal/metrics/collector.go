package metrics

import (
	"sort"
	"sync"
	"time"
)

// Collector aggregates per-rule dispatch counters for the lifetime of a run.
type Collector struct {
	mu      sync.RWMutex
	enabled bool
	started time.Time
	rules   map[string]*RuleMetrics
}

// RuleMetrics captures counters tracked for one rule.
type RuleMetrics struct {
	Rule           string    `json:"rule"`
	Matched        uint64    `json:"matched"`
	Dispatched     uint64    `json:"dispatched"`
	SendErrors     uint64    `json:"sendErrors"`
	LastMatched    time.Time `json:"lastMatched,omitempty"`
	LastDispatched time.Time `json:"lastDispatched,omitempty"`
	LastErrored    time.Time `json:"lastErrored,omitempty"`
}

// Totals aggregates counters across all rules in a snapshot.
type Totals struct {
	Matched    uint64 `json:"matched"`
	Dispatched uint64 `json:"dispatched"`
	SendErrors uint64 `json:"sendErrors"`
}

// Snapshot is the serializable view of the current counter state.
type Snapshot struct {
	Enabled bool          `json:"enabled"`
	Started time.Time     `json:"started,omitempty"`
	Totals  Totals        `json:"totals"`
	Rules   []RuleMetrics `json:"rules,omitempty"`
}

// NewCollector returns a collector with the provided opt-in state.
func NewCollector(enabled bool) *Collector {
	c := &Collector{}
	c.SetEnabled(enabled)
	return c
}

// Enabled reports whether collection is currently active.
func (c *Collector) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled toggles collection, resetting counters when enabling.
func (c *Collector) SetEnabled(enabled bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled == enabled {
		return
	}
	c.enabled = enabled
	if !enabled {
		c.rules = nil
		c.started = time.Time{}
		return
	}
	c.started = time.Now()
	c.rules = make(map[string]*RuleMetrics)
}

// RecordMatch increments the matched counter for a rule.
func (c *Collector) RecordMatch(rule string) {
	c.updateRule(rule, func(metrics *RuleMetrics, now time.Time) {
		metrics.Matched++
		metrics.LastMatched = now
	})
}

// RecordDispatch increments the dispatched counter for a rule.
func (c *Collector) RecordDispatch(rule string) {
	c.updateRule(rule, func(metrics *RuleMetrics, now time.Time) {
		metrics.Dispatched++
		metrics.LastDispatched = now
	})
}

// RecordSendError increments the send error counter for a rule.
func (c *Collector) RecordSendError(rule string) {
	c.updateRule(rule, func(metrics *RuleMetrics, now time.Time) {
		metrics.SendErrors++
		metrics.LastErrored = now
	})
}

func (c *Collector) updateRule(rule string, update func(*RuleMetrics, time.Time)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	entry, ok := c.rules[rule]
	if !ok {
		entry = &RuleMetrics{Rule: rule}
		c.rules[rule] = entry
	}
	update(entry, time.Now())
}

// Snapshot returns the current counters sorted by rule label.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := Snapshot{Enabled: c.enabled, Started: c.started}
	if !c.enabled {
		return snapshot
	}
	snapshot.Rules = make([]RuleMetrics, 0, len(c.rules))
	for _, entry := range c.rules {
		snapshot.Rules = append(snapshot.Rules, *entry)
		snapshot.Totals.Matched += entry.Matched
		snapshot.Totals.Dispatched += entry.Dispatched
		snapshot.Totals.SendErrors += entry.SendErrors
	}
	sort.Slice(snapshot.Rules, func(i, j int) bool {
		return snapshot.Rules[i].Rule < snapshot.Rules[j].Rule
	})
	return snapshot
}

package metrics

import "testing"

func TestCollectorDisabledByDefault(t *testing.T) {
	c := NewCollector(false)
	c.RecordMatch("rule#1")
	c.RecordDispatch("rule#1")
	snap := c.Snapshot()
	if snap.Enabled {
		t.Fatalf("expected disabled snapshot")
	}
	if len(snap.Rules) != 0 {
		t.Fatalf("expected no rules, got %d", len(snap.Rules))
	}
	if snap.Totals.Matched != 0 || snap.Totals.Dispatched != 0 {
		t.Fatalf("expected zero totals, got %+v", snap.Totals)
	}
}

func TestCollectorCountsPerRule(t *testing.T) {
	c := NewCollector(true)
	c.RecordMatch("rule#2")
	c.RecordMatch("rule#2")
	c.RecordDispatch("rule#2")
	c.RecordMatch("base-layer")
	c.RecordSendError("base-layer")

	snap := c.Snapshot()
	if !snap.Enabled {
		t.Fatalf("expected enabled snapshot")
	}
	if len(snap.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(snap.Rules))
	}
	if snap.Rules[0].Rule != "base-layer" || snap.Rules[1].Rule != "rule#2" {
		t.Fatalf("expected sorted rule labels, got %q then %q", snap.Rules[0].Rule, snap.Rules[1].Rule)
	}
	if got := snap.Rules[1]; got.Matched != 2 || got.Dispatched != 1 || got.SendErrors != 0 {
		t.Fatalf("unexpected rule#2 counters: %+v", got)
	}
	if got := snap.Rules[0]; got.Matched != 1 || got.SendErrors != 1 {
		t.Fatalf("unexpected base-layer counters: %+v", got)
	}
	if snap.Totals.Matched != 3 || snap.Totals.Dispatched != 1 || snap.Totals.SendErrors != 1 {
		t.Fatalf("unexpected totals: %+v", snap.Totals)
	}
}

func TestCollectorDisableResetsCounters(t *testing.T) {
	c := NewCollector(true)
	c.RecordMatch("rule#1")
	c.SetEnabled(false)
	c.SetEnabled(true)
	snap := c.Snapshot()
	if len(snap.Rules) != 0 {
		t.Fatalf("expected counters reset after re-enable, got %d rules", len(snap.Rules))
	}
}

func TestCollectorNilSafe(t *testing.T) {
	var c *Collector
	c.RecordMatch("rule#1")
	c.RecordDispatch("rule#1")
	c.RecordSendError("rule#1")
	if c.Enabled() {
		t.Fatalf("nil collector reported enabled")
	}
	if snap := c.Snapshot(); snap.Enabled || len(snap.Rules) != 0 {
		t.Fatalf("nil collector returned non-empty snapshot: %+v", snap)
	}
}

package model

import (
	"math"
	"testing"
)

func TestUsageTracker(t *testing.T) {
	t.Run("records cost from pricing table", func(t *testing.T) {
		tr := NewUsageTracker()
		cost := tr.Record("gpt-4o", "agent", Usage{InputTokens: 1_000_000, OutputTokens: 500_000})
		// 1M input at $2.50 plus 0.5M output at $10.00.
		if math.Abs(cost-7.50) > 1e-9 {
			t.Errorf("expected cost 7.50, got %v", cost)
		}
		if math.Abs(tr.TotalCostUSD()-7.50) > 1e-9 {
			t.Errorf("unexpected total %v", tr.TotalCostUSD())
		}
	})

	t.Run("unknown model recorded at zero cost", func(t *testing.T) {
		tr := NewUsageTracker()
		if cost := tr.Record("some-local-model", "", Usage{InputTokens: 100}); cost != 0 {
			t.Errorf("expected zero cost, got %v", cost)
		}
		if len(tr.Calls()) != 1 {
			t.Error("zero-cost call not recorded")
		}
	})

	t.Run("set pricing overrides", func(t *testing.T) {
		tr := NewUsageTracker()
		tr.SetPricing("some-local-model", ModelPricing{InputPer1M: 1.00, OutputPer1M: 2.00})
		cost := tr.Record("some-local-model", "", Usage{InputTokens: 2_000_000, OutputTokens: 1_000_000})
		if math.Abs(cost-4.00) > 1e-9 {
			t.Errorf("expected cost 4.00, got %v", cost)
		}
	})

	t.Run("totals accumulate across calls", func(t *testing.T) {
		tr := NewUsageTracker()
		tr.Record("gpt-4o", "agent", Usage{InputTokens: 100, OutputTokens: 20})
		tr.Record("gpt-4o-mini", "map[0]/agent", Usage{InputTokens: 50, OutputTokens: 10})
		in, out := tr.TotalTokens()
		if in != 150 || out != 30 {
			t.Errorf("unexpected totals %d/%d", in, out)
		}

		calls := tr.Calls()
		if len(calls) != 2 {
			t.Fatalf("expected 2 calls, got %d", len(calls))
		}
		if calls[1].StepPath != "map[0]/agent" {
			t.Errorf("unexpected step path %q", calls[1].StepPath)
		}
		if calls[0].Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
	})
}

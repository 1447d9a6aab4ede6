package model

import (
	"sync"
	"time"
)

// ModelPricing defines input and output token costs for LLM models.
// Prices are in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Static pricing for common models. Prices change over time; override
// unknown or stale entries with UsageTracker.SetPricing.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":                {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":              {InputPer1M: 0.50, OutputPer1M: 1.50},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// ModelCall records one LLM API invocation with its token usage and
// calculated cost.
type ModelCall struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time

	// StepPath identifies the step instance that made the call,
	// when known (e.g. "review/map[2]/summarize").
	StepPath string
}

// UsageTracker accumulates token usage and cost across LLM calls.
//
// It is safe for concurrent use, so a single tracker can be shared by
// parallel map branches and by multiple conversations.
type UsageTracker struct {
	mu      sync.Mutex
	calls   []ModelCall
	pricing map[string]ModelPricing
}

// NewUsageTracker creates a tracker with the default pricing table.
func NewUsageTracker() *UsageTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for k, v := range defaultModelPricing {
		pricing[k] = v
	}
	return &UsageTracker{pricing: pricing}
}

// SetPricing sets or overrides the pricing for a model.
func (t *UsageTracker) SetPricing(modelName string, p ModelPricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pricing[modelName] = p
}

// Record adds one call to the tracker and returns its cost in USD.
// Unknown models are recorded at zero cost.
func (t *UsageTracker) Record(modelName, stepPath string, u Usage) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cost float64
	if p, ok := t.pricing[modelName]; ok {
		cost = float64(u.InputTokens)/1e6*p.InputPer1M + float64(u.OutputTokens)/1e6*p.OutputPer1M
	}
	t.calls = append(t.calls, ModelCall{
		Model:        modelName,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
		StepPath:     stepPath,
	})
	return cost
}

// TotalCostUSD returns the accumulated cost of all recorded calls.
func (t *UsageTracker) TotalCostUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total float64
	for _, c := range t.calls {
		total += c.CostUSD
	}
	return total
}

// TotalTokens returns the accumulated input and output token counts.
func (t *UsageTracker) TotalTokens() (input, output int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range t.calls {
		input += c.InputTokens
		output += c.OutputTokens
	}
	return input, output
}

// Calls returns a copy of all recorded calls in order.
func (t *UsageTracker) Calls() []ModelCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ModelCall, len(t.calls))
	copy(out, t.calls)
	return out
}

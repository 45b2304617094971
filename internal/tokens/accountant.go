// Package tokens estimates token counts and enforces the cumulative input
// ceiling of a bridge.
//
// Estimates use a fixed heuristic of one token per four characters. This is an
// approximation for pre-flight checks, not a provider-accurate tokenizer.
package tokens

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
)

// CharsPerToken is the divisor used by Estimate.
const CharsPerToken = 4

// Estimate returns floor(characters/4). Empty text yields 0.
func Estimate(text string) int {
	return utf8.RuneCountInString(text) / CharsPerToken
}

// EstimateMessages sums the estimates of every message's text, including the
// text parts of multimodal content. Image parts count as zero.
func EstimateMessages(messages []openai.ChatCompletionMessage) int {
	total := 0
	for _, m := range messages {
		total += Estimate(m.Content)
		for _, part := range m.MultiContent {
			if part.Type == openai.ChatMessagePartTypeText {
				total += Estimate(part.Text)
			}
		}
	}
	return total
}

// Usage holds cumulative token counters.
type Usage struct {
	InputTokens      int
	CompletionTokens int
}

// Total returns input plus completion tokens.
func (u Usage) Total() int { return u.InputTokens + u.CompletionTokens }

// Accountant tracks cumulative usage against an input ceiling and prices it.
// Counter updates are serialized, but a WithinLimit check followed by a later
// Record is not atomic across callers.
type Accountant struct {
	maxInput int // 0 = no ceiling
	usage    Usage
	cost     decimal.Decimal
	pricing  map[anthropic.Model]ModelPricing
	mu       sync.Mutex
}

// NewAccountant creates an accountant. maxInput of 0 disables the ceiling.
// A nil pricing table uses DefaultPricing.
func NewAccountant(maxInput int, pricing map[anthropic.Model]ModelPricing) *Accountant {
	if pricing == nil {
		pricing = DefaultPricing
	}
	return &Accountant{maxInput: maxInput, cost: decimal.Zero, pricing: pricing}
}

// MaxInput returns the configured ceiling, 0 when none is set.
func (a *Accountant) MaxInput() int { return a.maxInput }

// WithinLimit reports whether recording pending more input tokens would stay
// at or under the ceiling. Always true without a ceiling.
func (a *Accountant) WithinLimit(pending int) bool {
	if a.maxInput <= 0 {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage.InputTokens+pending <= a.maxInput
}

// LimitMessage explains why pending tokens do not fit. It is only meaningful
// when WithinLimit(pending) is false.
func (a *Accountant) LimitMessage(pending int) string {
	a.mu.Lock()
	current := a.usage.InputTokens
	a.mu.Unlock()
	return fmt.Sprintf("Request may exceed input token limit (Current: %d, Needed: %d, Max: %d)", current, pending, a.maxInput)
}

// Record adds one completed request's usage. Unknown models are counted but
// add no cost.
func (a *Accountant) Record(model anthropic.Model, input, completion int) Usage {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.usage.InputTokens += input
	a.usage.CompletionTokens += completion
	if p, ok := Lookup(a.pricing, model); ok {
		a.cost = a.cost.Add(p.Cost(input, completion))
	}
	return a.usage
}

// Usage returns the cumulative counters.
func (a *Accountant) Usage() Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// Cost returns the estimated cumulative cost in USD.
func (a *Accountant) Cost() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cost
}

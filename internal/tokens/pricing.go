package tokens

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/shopspring/decimal"
)

// Rate is a pair of USD prices per million tokens.
type Rate struct {
	Input  decimal.Decimal
	Output decimal.Decimal
}

// ModelPricing prices one model. Long replaces Standard for a request whose
// input exceeds LongContextThreshold; a zero threshold disables it.
type ModelPricing struct {
	Standard             Rate
	Long                 Rate
	LongContextThreshold int
}

var perMillion = decimal.NewFromInt(1_000_000)

func usd(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// Cost prices one request of input and output tokens.
func (p ModelPricing) Cost(input, output int) decimal.Decimal {
	r := p.Standard
	if p.LongContextThreshold > 0 && input > p.LongContextThreshold {
		r = p.Long
	}
	total := r.Input.Mul(decimal.NewFromInt(int64(input))).
		Add(r.Output.Mul(decimal.NewFromInt(int64(output))))
	return total.Div(perMillion)
}

// DefaultPricing is the built-in table for Claude models.
var DefaultPricing = map[anthropic.Model]ModelPricing{
	anthropic.ModelClaudeOpus4_6: {
		Standard:             Rate{Input: usd(5), Output: usd(25)},
		Long:                 Rate{Input: usd(10), Output: usd(37.5)},
		LongContextThreshold: 200_000,
	},
	anthropic.ModelClaudeSonnet4_5: {
		Standard:             Rate{Input: usd(3), Output: usd(15)},
		Long:                 Rate{Input: usd(6), Output: usd(22.5)},
		LongContextThreshold: 200_000,
	},
	anthropic.ModelClaudeHaiku4_5: {
		Standard: Rate{Input: usd(1), Output: usd(5)},
	},
}

// Lookup finds the pricing for model. Dated ids such as
// "claude-sonnet-4-5-20250929" fall back to the longest alias they extend.
func Lookup(table map[anthropic.Model]ModelPricing, model anthropic.Model) (ModelPricing, bool) {
	if p, ok := table[model]; ok {
		return p, true
	}
	var (
		best    ModelPricing
		bestLen int
	)
	for alias, p := range table {
		a := string(alias)
		if len(a) > bestLen && strings.HasPrefix(string(model), a+"-") {
			best, bestLen = p, len(a)
		}
	}
	return best, bestLen > 0
}

package bridge

import (
	"io"
	"log/slog"
	"os"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/armatrix/agent-bridge/internal/tokens"
	"github.com/armatrix/agent-bridge/sdk"
)

// ModelPricing holds per-model token prices in USD per million tokens.
type ModelPricing = tokens.ModelPricing

// Rate is a pair of USD prices per million tokens.
type Rate = tokens.Rate

// Option configures a Bridge via the functional options pattern.
type Option func(*options)

// options holds all behavior set via Option functions.
type options struct {
	opener  sdk.Opener
	logger  *slog.Logger
	metrics *Metrics
	echo    io.Writer
	pricing map[anthropic.Model]ModelPricing
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (o *options) applyDefaults() {
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.echo == nil {
		o.echo = os.Stdout
	}
	if o.pricing == nil {
		o.pricing = tokens.DefaultPricing
	}
}

// resolveOptions applies all option functions and fills defaults.
func resolveOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	o.applyDefaults()
	return o
}

// WithOpener sets the runtime sessions are opened against. Required.
func WithOpener(opener sdk.Opener) Option {
	return func(o *options) { o.opener = opener }
}

// WithLogger sets the structured logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics records request, verdict, token and duration metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithStreamOutput sets where text is echoed for requests that ask to
// stream. The default is os.Stdout.
func WithStreamOutput(w io.Writer) Option {
	return func(o *options) { o.echo = w }
}

// WithPricing overrides the pricing table used for cost estimates.
func WithPricing(pricing map[anthropic.Model]ModelPricing) Option {
	return func(o *options) { o.pricing = pricing }
}

// Package deid chooses between the deterministic and assisted redaction
// paths and guarantees a result: every assisted failure resolves through the
// deterministic path.
package deid

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/dshills/phiguard/internal/auditor"
	"github.com/dshills/phiguard/internal/config"
	"github.com/dshills/phiguard/internal/llm"
	"github.com/dshills/phiguard/internal/logging"
	"github.com/dshills/phiguard/internal/metrics"
	"github.com/dshills/phiguard/internal/phi"
	"github.com/dshills/phiguard/internal/policy"
	"github.com/dshills/phiguard/internal/redact"
	"github.com/dshills/phiguard/internal/tracing"
)

// ErrNoOutput is returned when neither path can run.
var ErrNoOutput = errors.New("de-identification unavailable: no pattern table")

// Path records which route produced a result.
type Path string

const (
	PathNone          Path = "none"
	PathDeterministic Path = "deterministic"
	PathAssisted      Path = "assisted"
)

// Fallback reasons.
const (
	ReasonTimeout         = "timeout"
	ReasonCanceled        = "canceled"
	ReasonRateLimited     = "rate_limited"
	ReasonCompletionError = "completion_error"
	ReasonEmptyOutput     = "empty_output"
	ReasonResidualPHI     = "residual_phi"
)

// Result is the outcome of one call. It is owned by the caller.
type Result struct {
	RedactedText string
	Items        []redact.Item
	UsedFallback bool
	Path         Path
	// FallbackReason is set when UsedFallback is true.
	FallbackReason string
	// Model is the model that produced an assisted result.
	Model string
}

// Settings tunes path selection and the assisted call.
type Settings struct {
	Strategy    string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	// Verify rejects assisted output in which the obvious tier still matches.
	Verify bool
	// Rate is assisted calls per second; zero disables limiting.
	Rate  float64
	Burst int
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return SettingsFrom(config.Default())
}

// SettingsFrom extracts the orchestrator settings from cfg.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		Strategy:    cfg.Strategy,
		Timeout:     cfg.AssistedTimeout,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Verify:      cfg.VerifyAssisted,
		Rate:        cfg.AssistedRate,
		Burst:       cfg.AssistedBurst,
	}
}

// Deidentifier runs the de-identification pipeline for one process. It is
// safe for concurrent use.
type Deidentifier struct {
	table    *phi.Table
	checker  *policy.Checker
	provider llm.Provider
	settings Settings
	limiter  *rate.Limiter
	labels   []string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Deidentifier.
type Option func(*Deidentifier)

// WithProvider enables the assisted path.
func WithProvider(p llm.Provider) Option {
	return func(d *Deidentifier) { d.provider = p }
}

// WithSettings replaces the default settings.
func WithSettings(s Settings) Option {
	return func(d *Deidentifier) { d.settings = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Deidentifier) { d.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Deidentifier) { d.metrics = m }
}

// New returns a Deidentifier backed by table.
func New(table *phi.Table, opts ...Option) *Deidentifier {
	d := &Deidentifier{
		table:    table,
		settings: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if table != nil {
		d.checker = policy.NewChecker(table)
	}
	if d.settings.Rate > 0 {
		burst := d.settings.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(d.settings.Rate), burst)
	}
	for _, c := range phi.SafeHarborCategories() {
		d.labels = append(d.labels, c.Label())
	}
	d.logger = logging.For(d.logger, "deid")
	return d
}

// Deidentify scrubs text according to the policy for uc.
//
// Text that needs no scrubbing comes back unchanged with path none. An
// assisted failure of any kind (timeout, cancellation, upstream error, empty
// or unsafe output) resolves through the deterministic path with
// UsedFallback set. The only error is ErrNoOutput.
func (d *Deidentifier) Deidentify(ctx context.Context, text string, uc policy.UsageContext) (res *Result, err error) {
	ctx, end := tracing.StartSpan(ctx, "deid.deidentify", attribute.String("deid.context", string(uc)))
	defer func() { end(err) }()

	if d.table == nil {
		return nil, ErrNoOutput
	}
	p := policy.For(uc)

	switch {
	case !d.checker.ShouldDeidentify(text, uc):
		res = &Result{RedactedText: text, Path: PathNone}
	case d.useAssisted(p):
		var reason string
		res, reason = d.assisted(ctx, text, p)
		if reason != "" {
			res = d.deterministic(text, p)
			res.UsedFallback = true
			res.FallbackReason = reason
			d.metrics.IncFallback(reason)
			d.logger.Warn("assisted redaction fell back to deterministic path",
				"context", uc, "reason", reason)
		}
	default:
		res = d.deterministic(text, p)
	}

	d.metrics.IncDeidentification(string(uc), string(res.Path))
	for _, cc := range auditor.Counts(res.Items) {
		d.metrics.AddRedactedItems(string(cc.Category), cc.Count)
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("deid.path", string(res.Path)),
		attribute.Int("deid.items", len(res.Items)),
		attribute.Bool("deid.used_fallback", res.UsedFallback),
	)
	d.logger.Debug("de-identification complete",
		"context", uc, "path", res.Path, "items", len(res.Items), "used_fallback", res.UsedFallback)
	return res, nil
}

func (d *Deidentifier) useAssisted(p *policy.Policy) bool {
	if d.provider == nil {
		return false
	}
	switch d.settings.Strategy {
	case config.StrategyDeterministic:
		return false
	case config.StrategyAssisted:
		return true
	default:
		return p.Mandatory
	}
}

func (d *Deidentifier) deterministic(text string, p *policy.Policy) *Result {
	r := redact.Redact(d.table, text, p.Tier)
	return &Result{RedactedText: r.Text, Items: r.Items, Path: PathDeterministic}
}

// assisted returns a result, or a non-empty fallback reason.
func (d *Deidentifier) assisted(ctx context.Context, text string, p *policy.Policy) (*Result, string) {
	if ctx.Err() != nil {
		return nil, parentReason(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(cctx); err != nil {
			if ctx.Err() != nil {
				return nil, parentReason(ctx)
			}
			return nil, ReasonRateLimited
		}
	}

	start := time.Now()
	resp, err := d.provider.Complete(cctx, &llm.Request{
		SystemPrompt: llm.BuildRedactionPrompt(p.Exhaustive, d.labels, p.FormatRulesForPrompt()),
		Messages:     llm.UserMessage(llm.BuildRedactionInput(text)),
		Temperature:  d.settings.Temperature,
		MaxTokens:    d.settings.MaxTokens,
	})
	d.metrics.ObserveAssisted(time.Since(start))
	if err != nil {
		reason := classify(ctx, cctx, err)
		attrs := []any{"reason", reason}
		var ce *llm.CompletionError
		if errors.As(err, &ce) {
			attrs = append(attrs, "provider", ce.Provider, "status", ce.StatusCode)
		}
		d.logger.Warn("assisted redaction call failed", attrs...)
		return nil, reason
	}

	out := llm.ExtractRedacted(resp.Content)
	if strings.TrimSpace(out) == "" {
		return nil, ReasonEmptyOutput
	}
	if d.settings.Verify && d.table.Contains(out, phi.TierObvious) {
		return nil, ReasonResidualPHI
	}
	return &Result{
		RedactedText: out,
		Items:        auditor.Summarize(text, out),
		Path:         PathAssisted,
		Model:        resp.Model,
	}, ""
}

func (d *Deidentifier) timeout() time.Duration {
	if d.settings.Timeout > 0 {
		return d.settings.Timeout
	}
	return 30 * time.Second
}

func parentReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonCanceled
}

// classify maps a failed call to a fallback reason. Context state is checked
// before the error itself because providers wrap transport errors.
func classify(parent, call context.Context, err error) string {
	switch {
	case parent.Err() != nil:
		return parentReason(parent)
	case errors.Is(call.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	}
	var ce *llm.CompletionError
	if errors.As(err, &ce) && ce.RateLimited() {
		return ReasonRateLimited
	}
	return ReasonCompletionError
}

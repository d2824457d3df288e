// Package compliance wires the de-identification pipeline to the audit
// trail. A Core is created once per process from an explicit configuration
// and passed to the code that handles sessions, messages and documents.
//
// Caller text flows through the context policy and the orchestrator and
// comes back scrubbed; a PHI-free summary of what was removed is recorded in
// the encrypted audit store on a background queue, so the caller never waits
// on persistence.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/phiguard/internal/audit"
	"github.com/dshills/phiguard/internal/auditor"
	"github.com/dshills/phiguard/internal/config"
	"github.com/dshills/phiguard/internal/deid"
	"github.com/dshills/phiguard/internal/llm"
	"github.com/dshills/phiguard/internal/logging"
	"github.com/dshills/phiguard/internal/metrics"
	"github.com/dshills/phiguard/internal/phi"
	"github.com/dshills/phiguard/internal/policy"
	"github.com/dshills/phiguard/internal/seal"
)

// Errors returned by New, grouped by what the operator must fix.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrProvider      = errors.New("completion provider unavailable")
	ErrNoAuditKey    = errors.New("no audit key: set audit_key or audit_key_file")
)

// Detail keys added to de-identification events.
const (
	DetailContext        = "context"
	DetailPath           = "path"
	DetailUsedFallback   = "used_fallback"
	DetailFallbackReason = "fallback_reason"
	DetailModel          = "model"
	DetailEventCount     = "event_count"
	DetailUnreadable     = "unreadable"
	DetailRemoved        = "removed"
	DetailRetentionDays  = "retention_days"
)

// Actor identifies who performed an action.
type Actor struct {
	UserID    string
	SessionID *uuid.UUID
}

// Options configures New. Config is required; everything else is optional.
type Options struct {
	Config *config.Config
	// Sealer encrypts audit records. When nil, the key comes from Config.
	Sealer seal.Sealer
	// Provider enables the assisted path. When nil and Config names a
	// model, the provider is built from the environment.
	Provider   llm.Provider
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// Core is the compliance pipeline. It is safe for concurrent use.
type Core struct {
	cfg     *config.Config
	table   *phi.Table
	checker *policy.Checker
	deid    *deid.Deidentifier
	store   *audit.FileStore
	emitter *audit.Emitter
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New validates the configuration, compiles the pattern table and opens the
// audit store. Any failure here is fatal: the caller must not start serving.
func New(opts Options) (*Core, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	table, err := phi.Compile()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	sealer := opts.Sealer
	if sealer == nil {
		if sealer, err = sealerFrom(cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	provider := opts.Provider
	if provider == nil && cfg.AssistedEnabled() {
		if provider, err = llm.NewProvider(cfg.Model); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProvider, err)
		}
	}

	logger := opts.Logger
	m := metrics.New(opts.Registerer)

	store, err := audit.NewFileStore(cfg.AuditDir, sealer,
		audit.WithLogger(logger),
		audit.WithMetrics(m),
		audit.WithQueryConcurrency(cfg.QueryConcurrency),
	)
	if err != nil {
		return nil, err
	}

	dopts := []deid.Option{
		deid.WithSettings(deid.SettingsFrom(cfg)),
		deid.WithLogger(logger),
		deid.WithMetrics(m),
	}
	if provider != nil {
		dopts = append(dopts, deid.WithProvider(provider))
	}

	c := &Core{
		cfg:     cfg,
		table:   table,
		checker: policy.NewChecker(table),
		deid:    deid.New(table, dopts...),
		store:   store,
		emitter: audit.NewEmitter(store,
			audit.WithBuffer(cfg.EmitBuffer),
			audit.WithWorkers(cfg.EmitWorkers),
			audit.WithFilter(audit.NewDetailsFilter(table)),
			audit.WithEmitterLogger(logger),
			audit.WithEmitterMetrics(m),
		),
		logger:  logging.For(logger, "compliance"),
		metrics: m,
	}
	c.logger.Info("compliance core ready",
		"pattern_table", table.Version(),
		"patterns", len(table.Patterns()),
		"assisted", provider != nil,
		"strategy", cfg.Strategy,
		"retention_days", cfg.RetentionDays,
	)
	return c, nil
}

func sealerFrom(cfg *config.Config) (seal.Sealer, error) {
	var (
		key []byte
		err error
	)
	switch {
	case cfg.AuditKey != "":
		key, err = seal.DecodeKey(cfg.AuditKey)
	case cfg.AuditKeyFile != "":
		key, err = seal.LoadKeyFile(cfg.AuditKeyFile)
	default:
		return nil, ErrNoAuditKey
	}
	if err != nil {
		return nil, err
	}
	return seal.New(key)
}

// Config returns the configuration the core was built with.
func (c *Core) Config() *config.Config { return c.cfg }

// Table returns the compiled pattern table.
func (c *Core) Table() *phi.Table { return c.table }

// ShouldDeidentify reports whether text in uc must be scrubbed.
func (c *Core) ShouldDeidentify(text string, uc policy.UsageContext) bool {
	return c.checker.ShouldDeidentify(text, uc)
}

// Deidentify scrubs text and records a phi_redacted event, or
// phi_redaction_fallback when the assisted path failed. The event holds
// counts and categories only.
func (c *Core) Deidentify(ctx context.Context, actor Actor, text string, uc policy.UsageContext) (*deid.Result, error) {
	res, err := c.deid.Deidentify(ctx, text, uc)
	if err != nil {
		return nil, err
	}

	details := auditor.Details(res.Items)
	details[DetailContext] = string(uc)
	details[DetailPath] = string(res.Path)
	details[DetailUsedFallback] = strconv.FormatBool(res.UsedFallback)
	if res.FallbackReason != "" {
		details[DetailFallbackReason] = res.FallbackReason
	}
	if res.Model != "" {
		details[DetailModel] = res.Model
	}

	typ := audit.EventPHIRedacted
	if res.UsedFallback {
		typ = audit.EventPHIRedactionFallback
	}
	c.emitter.Emit(audit.NewEvent(typ, actor.UserID, actor.SessionID, details))
	return res, nil
}

// Record queues an event without waiting for it to be persisted. Details
// must be operational metadata; values that look like PHI are filtered.
func (c *Core) Record(actor Actor, typ audit.EventType, details map[string]string) error {
	if !typ.Valid() {
		return fmt.Errorf("%w: %q", audit.ErrUnknownEventType, typ)
	}
	c.emitter.Emit(audit.NewEvent(typ, actor.UserID, actor.SessionID, details))
	return nil
}

// Query returns stored events matching f.
func (c *Core) Query(ctx context.Context, f audit.Filter) (*audit.QueryResult, error) {
	return c.store.Query(ctx, f)
}

// Export materializes the events between start and end for actor and records
// an audit_exported event.
func (c *Core) Export(ctx context.Context, actor Actor, start, end time.Time) (*audit.Export, error) {
	exp, err := c.store.Export(ctx, start, end, actor.UserID)
	if err != nil {
		return nil, err
	}
	if exp.Unreadable > 0 {
		c.logger.Warn("export skipped unreadable audit files", "unreadable", exp.Unreadable)
	}
	c.emitter.Emit(audit.NewEvent(audit.EventAuditExported, actor.UserID, actor.SessionID, map[string]string{
		DetailEventCount: strconv.Itoa(len(exp.Events)),
		DetailUnreadable: strconv.Itoa(exp.Unreadable),
	}))
	return exp, nil
}

// SweepRetention deletes events older than days and records a
// retention_swept event. A negative days uses the configured retention.
func (c *Core) SweepRetention(ctx context.Context, actor Actor, days int) (int, error) {
	if days < 0 {
		days = c.cfg.RetentionDays
	}
	removed, err := c.store.SweepRetention(ctx, days)
	if err != nil {
		return removed, err
	}
	c.emitter.Emit(audit.NewEvent(audit.EventRetentionSwept, actor.UserID, actor.SessionID, map[string]string{
		DetailRemoved:       strconv.Itoa(removed),
		DetailRetentionDays: strconv.Itoa(days),
	}))
	return removed, nil
}

// Close stops accepting events and waits for queued ones to be persisted.
func (c *Core) Close(ctx context.Context) error {
	return c.emitter.Close(ctx)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dshills/phiguard/internal/audit"
	"github.com/dshills/phiguard/internal/auditor"
	"github.com/dshills/phiguard/internal/config"
	"github.com/dshills/phiguard/internal/document"
	"github.com/dshills/phiguard/internal/logging"
	"github.com/dshills/phiguard/internal/policy"
	"github.com/dshills/phiguard/internal/redact"
	"github.com/dshills/phiguard/internal/render"
	"github.com/dshills/phiguard/internal/seal"
	"github.com/dshills/phiguard/pkg/compliance"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// Exit codes beyond cobra's default 1.
const (
	exitConfig   = 3
	exitProvider = 4
	exitStore    = 5
)

// closeTimeout bounds how long the CLI waits for queued audit events.
const closeTimeout = 30 * time.Second

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

// codeError returns an exitErr for the given code.
func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	user       string
}

type scanFlags struct {
	globalFlags
	context string
	format  string
	out     string
	showLog bool
}

type queryFlags struct {
	globalFlags
	session string
	since   string
	until   string
	format  string
}

type sweepFlags struct {
	globalFlags
	days int
}

type exportFlags struct {
	globalFlags
	since  string
	until  string
	by     string
	format string
	out    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			os.Exit(ee.code)
		}
		// cobra already printed the error
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:     "phiguard",
		Short:   "De-identify PHI and manage the encrypted audit trail",
		Long:    "phiguard scrubs protected health information from text and records a PHI-free, encrypted audit trail of every action.",
		Version: version,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML configuration file (PHIGUARD_* environment variables override it)")
	root.PersistentFlags().StringVar(&g.user, "user", defaultUser(), "User ID recorded in audit events")

	var sf scanFlags
	scanCmd := &cobra.Command{
		Use:   "scan <file|->",
		Short: "De-identify a document and record the redaction summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sf.globalFlags = g
			return runScan(cmd.Context(), args[0], sf, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f := scanCmd.Flags()
	f.StringVar(&sf.context, "context", string(policy.UploadedDocument), "Usage context: user_query, stored_record or uploaded_document")
	f.StringVar(&sf.format, "format", "text", "Output format: text or json")
	f.StringVar(&sf.out, "out", "", "Write output to file instead of stdout")
	f.BoolVar(&sf.showLog, "log", false, "Print the redaction log (categories only) to stderr")

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Query, export and sweep the audit trail",
	}

	var qf queryFlags
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "List audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			qf.globalFlags = g
			return runQuery(cmd.Context(), qf, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f = queryCmd.Flags()
	f.StringVar(&qf.session, "session", "", "Only events for this session UUID")
	f.StringVar(&qf.since, "since", "", "Inclusive lower bound (RFC 3339 or YYYY-MM-DD)")
	f.StringVar(&qf.until, "until", "", "Inclusive upper bound (RFC 3339 or YYYY-MM-DD)")
	f.StringVar(&qf.format, "format", "json", "Output format: json or md")

	var wf sweepFlags
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete audit events older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wf.globalFlags = g
			return runSweep(cmd.Context(), wf, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	sweepCmd.Flags().IntVar(&wf.days, "days", -1, "Retention in days (default: retention_days from configuration)")

	var ef exportFlags
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit events for compliance review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ef.globalFlags = g
			return runExport(cmd.Context(), ef, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f = exportCmd.Flags()
	f.StringVar(&ef.since, "since", "", "Inclusive lower bound (RFC 3339 or YYYY-MM-DD)")
	f.StringVar(&ef.until, "until", "", "Inclusive upper bound (RFC 3339 or YYYY-MM-DD)")
	f.StringVar(&ef.by, "by", "", "Reviewer recorded as exporter (default: --user)")
	f.StringVar(&ef.format, "format", "json", "Output format: json or md")
	f.StringVar(&ef.out, "out", "", "Write output to file instead of stdout")

	auditCmd.AddCommand(queryCmd, sweepCmd, exportCmd)

	var keyOut string
	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new audit encryption key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(keyOut, cmd.OutOrStdout())
		},
	}
	keygenCmd.Flags().StringVar(&keyOut, "out", "", "Write the key to this file (created with mode 0600, never overwritten)")

	root.AddCommand(scanCmd, auditCmd, keygenCmd)
	return root
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

// scanOutput is the JSON form of a scan. It carries the redacted text and
// category counts only.
type scanOutput struct {
	File           string        `json:"file"`
	Hash           string        `json:"hash"`
	Context        string        `json:"context"`
	Path           string        `json:"path"`
	UsedFallback   bool          `json:"used_fallback"`
	FallbackReason string        `json:"fallback_reason,omitempty"`
	Model          string        `json:"model,omitempty"`
	Redactions     []redact.Item `json:"redactions"`
	RedactedText   string        `json:"redacted_text"`
}

func runScan(ctx context.Context, path string, flags scanFlags, stdout, stderr io.Writer) error {
	// --- Step 1: Validate flags ---
	switch flags.format {
	case "text", "json":
	default:
		return codeError(exitConfig, "invalid flags: --format must be text or json, got %q", flags.format)
	}
	uc, err := policy.ParseContext(flags.context)
	if err != nil {
		return codeError(exitConfig, "invalid flags: %s", err)
	}

	// --- Step 2: Load document ---
	doc, err := document.Load(path)
	if err != nil {
		return codeError(exitConfig, "loading document: %s", err)
	}

	// --- Step 3: Open the compliance core ---
	core, logger, err := openCore(flags.configPath, stderr)
	if err != nil {
		return err
	}
	defer closeCore(core, logger)

	actor := compliance.Actor{UserID: flags.user}
	if err := core.Record(actor, audit.EventDocumentUploaded, map[string]string{
		"hash":  doc.Hash,
		"bytes": strconv.Itoa(doc.Size),
		"lines": strconv.Itoa(doc.LineCount),
	}); err != nil {
		return codeError(exitStore, "recording upload: %s", err)
	}

	// --- Step 4: De-identify ---
	res, err := core.Deidentify(ctx, actor, doc.Text, uc)
	if err != nil {
		return codeError(exitStore, "de-identifying: %s", err)
	}
	if res.UsedFallback {
		fmt.Fprintf(stderr, "WARN: assisted redaction unavailable (%s); deterministic result used\n", res.FallbackReason)
	}
	if flags.showLog {
		fmt.Fprint(stderr, auditor.RenderLog(res.Items))
	}

	// --- Step 5: Render and write ---
	var out []byte
	if flags.format == "json" {
		items := res.Items
		if items == nil {
			items = []redact.Item{}
		}
		out, err = json.MarshalIndent(scanOutput{
			File:           doc.Path,
			Hash:           doc.Hash,
			Context:        string(uc),
			Path:           string(res.Path),
			UsedFallback:   res.UsedFallback,
			FallbackReason: res.FallbackReason,
			Model:          res.Model,
			Redactions:     items,
			RedactedText:   res.RedactedText,
		}, "", "  ")
		if err != nil {
			return codeError(exitConfig, "rendering output: %s", err)
		}
	} else {
		out = []byte(res.RedactedText)
	}
	return writeOutput(flags.out, out, stdout)
}

func runQuery(ctx context.Context, flags queryFlags, stdout, stderr io.Writer) error {
	renderer, err := render.NewRenderer(flags.format)
	if err != nil {
		return codeError(exitConfig, "invalid flags: %s", err)
	}
	filter, err := parseFilter(flags.session, flags.since, flags.until)
	if err != nil {
		return codeError(exitConfig, "invalid flags: %s", err)
	}

	core, logger, err := openCore(flags.configPath, stderr)
	if err != nil {
		return err
	}
	defer closeCore(core, logger)

	res, err := core.Query(ctx, filter)
	if err != nil {
		return storeError("querying audit trail", err)
	}
	warnUnreadable(stderr, res.Unreadable)

	out, err := renderer.Render(&audit.Export{
		ExportDate: time.Now().UTC(),
		DateRange:  audit.DateRange{Start: filter.Start, End: filter.End},
		Events:     res.Events,
		Unreadable: res.Unreadable,
	})
	if err != nil {
		return codeError(exitConfig, "rendering output: %s", err)
	}
	return writeOutput("", out, stdout)
}

func runSweep(ctx context.Context, flags sweepFlags, stdout, stderr io.Writer) error {
	core, logger, err := openCore(flags.configPath, stderr)
	if err != nil {
		return err
	}
	defer closeCore(core, logger)

	removed, err := core.SweepRetention(ctx, compliance.Actor{UserID: flags.user}, flags.days)
	if err != nil {
		return storeError("sweeping audit trail", err)
	}
	fmt.Fprintf(stdout, "removed %d audit event(s)\n", removed)
	return nil
}

func runExport(ctx context.Context, flags exportFlags, stdout, stderr io.Writer) error {
	renderer, err := render.NewRenderer(flags.format)
	if err != nil {
		return codeError(exitConfig, "invalid flags: %s", err)
	}
	filter, err := parseFilter("", flags.since, flags.until)
	if err != nil {
		return codeError(exitConfig, "invalid flags: %s", err)
	}
	by := flags.by
	if by == "" {
		by = flags.user
	}

	core, logger, err := openCore(flags.configPath, stderr)
	if err != nil {
		return err
	}
	defer closeCore(core, logger)

	exp, err := core.Export(ctx, compliance.Actor{UserID: by}, filter.Start, filter.End)
	if err != nil {
		return storeError("exporting audit trail", err)
	}
	warnUnreadable(stderr, exp.Unreadable)

	out, err := renderer.Render(exp)
	if err != nil {
		return codeError(exitConfig, "rendering output: %s", err)
	}
	return writeOutput(flags.out, out, stdout)
}

func runKeygen(out string, stdout io.Writer) error {
	key, err := seal.GenerateKey()
	if err != nil {
		return codeError(exitConfig, "%s", err)
	}
	if out == "" {
		fmt.Fprintln(stdout, key)
		return nil
	}
	f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return codeError(exitConfig, "creating key file: %s", err)
	}
	if _, err := fmt.Fprintln(f, key); err != nil {
		f.Close()
		return codeError(exitConfig, "writing key file: %s", err)
	}
	if err := f.Close(); err != nil {
		return codeError(exitConfig, "writing key file: %s", err)
	}
	return nil
}

// openCore loads configuration and builds the core, mapping failures to
// exit codes.
func openCore(configPath string, stderr io.Writer) (*compliance.Core, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, codeError(exitConfig, "loading configuration: %s", err)
	}
	logger := logging.New(cfg.LogLevel, stderr)
	core, err := compliance.New(compliance.Options{Config: cfg, Logger: logger})
	switch {
	case err == nil:
		return core, logger, nil
	case errors.Is(err, compliance.ErrInvalidConfig):
		return nil, nil, codeError(exitConfig, "%s", err)
	case errors.Is(err, compliance.ErrProvider):
		return nil, nil, codeError(exitProvider, "%s", err)
	default:
		return nil, nil, codeError(exitStore, "opening audit store: %s", err)
	}
}

func closeCore(core *compliance.Core, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := core.Close(ctx); err != nil {
		logger.Error("audit events still queued at exit", "error", err)
	}
}

func storeError(action string, err error) error {
	if errors.Is(err, audit.ErrInvalidRange) || errors.Is(err, audit.ErrNegativeRetention) {
		return codeError(exitConfig, "%s: %s", action, err)
	}
	return codeError(exitStore, "%s: %s", action, err)
}

func warnUnreadable(stderr io.Writer, n int) {
	if n > 0 {
		fmt.Fprintf(stderr, "WARN: %d audit file(s) could not be read and were skipped\n", n)
	}
}

func writeOutput(path string, data []byte, stdout io.Writer) error {
	if path != "" {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return codeError(exitConfig, "writing output file: %s", err)
		}
		return nil
	}
	if _, err := stdout.Write(data); err != nil {
		return codeError(exitConfig, "writing output: %s", err)
	}
	// Ensure output ends with a newline for terminal friendliness.
	if len(data) > 0 && data[len(data)-1] != '\n' {
		fmt.Fprintln(stdout)
	}
	return nil
}

func parseFilter(session, since, until string) (audit.Filter, error) {
	var f audit.Filter
	if session != "" {
		id, err := uuid.Parse(session)
		if err != nil {
			return f, fmt.Errorf("--session: %w", err)
		}
		f.SessionID = &id
	}
	var err error
	if f.Start, err = parseTime(since, false); err != nil {
		return f, fmt.Errorf("--since: %w", err)
	}
	if f.End, err = parseTime(until, true); err != nil {
		return f, fmt.Errorf("--until: %w", err)
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.Start.After(f.End) {
		return f, audit.ErrInvalidRange
	}
	return f, nil
}

// parseTime accepts RFC 3339 or a bare UTC date. A bare date used as an
// upper bound covers the whole day.
func parseTime(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/phiguard/internal/logging"
	"github.com/dshills/phiguard/internal/metrics"
	"github.com/dshills/phiguard/internal/seal"
	"github.com/dshills/phiguard/internal/tracing"
)

const (
	filePrefix = "audit_"
	fileSuffix = ".log"
	tempPrefix = ".tmp-audit-"
	// timeLayout keeps names sortable and free of colons.
	timeLayout = "2006-01-02T15-04-05.000000000Z"
	// maxCollisions bounds the disambiguator for one timestamp.
	maxCollisions = 10000

	defaultQueryConcurrency = 8
)

// Filter selects events for Query. Bounds are inclusive; a zero Start or End
// leaves that side open.
type Filter struct {
	SessionID *uuid.UUID
	Start     time.Time
	End       time.Time
}

func (f Filter) validate() error {
	if !f.Start.IsZero() && !f.End.IsZero() && f.Start.After(f.End) {
		return ErrInvalidRange
	}
	return nil
}

func (f Filter) match(e Event) bool {
	if f.SessionID != nil && (e.SessionID == nil || *e.SessionID != *f.SessionID) {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	return true
}

// QueryResult is the outcome of a range query. Unreadable counts files that
// could not be read, decrypted or decoded; they are skipped, not fatal.
type QueryResult struct {
	Events     []Event
	Unreadable int
}

// DateRange is the inclusive window of an export.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Export is a read-only snapshot handed to compliance reviewers.
type Export struct {
	ExportDate time.Time `json:"export_date"`
	ExportedBy string    `json:"exported_by"`
	DateRange  DateRange `json:"date_range"`
	Events     []Event   `json:"events"`
	Unreadable int       `json:"unreadable"`
}

// FileStore persists one sealed file per event in a directory.
//
// Names derive from the event timestamp; concurrent writers for the same
// instant get a numeric suffix. Each file is written to a temporary name and
// hard-linked into place, so a name is claimed atomically and an existing
// file is never overwritten, even across processes.
//
// Query and Export read and decrypt every file in the directory: cost is
// linear in the number of stored events.
type FileStore struct {
	dir         string
	sealer      seal.Sealer
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *FileStore) { s.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *FileStore) { s.metrics = m }
}

// WithQueryConcurrency bounds how many files a query decrypts at once.
func WithQueryConcurrency(n int) Option {
	return func(s *FileStore) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithClock overrides the time source used for retention cutoffs and
// export dates.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, sealer seal.Sealer, opts ...Option) (*FileStore, error) {
	if sealer == nil {
		return nil, &StoreError{Op: "open", Path: dir, Err: errors.New("nil sealer")}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &StoreError{Op: "open", Path: dir, Err: err}
	}
	s := &FileStore{
		dir:         dir,
		sealer:      sealer,
		concurrency: defaultQueryConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.For(s.logger, "audit")
	return s, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

// Append seals e and writes it to a new file. Encryption failures are
// returned; nothing is ever written in plaintext.
func (s *FileStore) Append(ctx context.Context, e Event) (err error) {
	ctx, end := tracing.StartSpan(ctx, "audit.append", attribute.String("audit.event_type", string(e.EventType)))
	defer func() { end(err) }()

	if !e.EventType.Valid() {
		return &StoreError{Op: "append", Err: fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)}
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	if err := ctx.Err(); err != nil {
		return &StoreError{Op: "append", Err: err}
	}

	plain, err := json.Marshal(e)
	if err != nil {
		return &StoreError{Op: "append", Err: fmt.Errorf("encoding event: %w", err)}
	}
	sealed, err := s.sealer.Seal(plain)
	if err != nil {
		return &StoreError{Op: "append", Err: err}
	}

	tmp, err := s.writeTemp(sealed)
	if err != nil {
		return &StoreError{Op: "append", Path: s.dir, Err: err}
	}
	defer os.Remove(tmp)

	name, err := s.claim(tmp, e.Timestamp)
	if err != nil {
		return &StoreError{Op: "append", Path: s.dir, Err: err}
	}
	s.logger.Debug("audit event persisted", "event_type", e.EventType, "file", name)
	return nil
}

func (s *FileStore) writeTemp(data []byte) (string, error) {
	f, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(name, 0o600); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("setting permissions: %w", err)
	}
	return name, nil
}

// claim links tmp to the first free name for ts.
func (s *FileStore) claim(tmp string, ts time.Time) (string, error) {
	for n := 0; n < maxCollisions; n++ {
		name := FileName(ts, n)
		err := os.Link(tmp, filepath.Join(s.dir, name))
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("linking %s: %w", name, err)
		}
	}
	return "", ErrNoFreeName
}

// FileName returns the file name for an event at ts. n > 0 appends the
// collision counter.
func FileName(ts time.Time, n int) string {
	base := filePrefix + ts.UTC().Format(timeLayout)
	if n == 0 {
		return base + fileSuffix
	}
	return fmt.Sprintf("%s_%04d%s", base, n, fileSuffix)
}

func isEventFile(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix)
}

// eventFiles lists event files in name order.
func (s *FileStore) eventFiles() ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Type().IsRegular() && isEventFile(e.Name()) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *FileStore) readEvent(name string) (Event, error) {
	var e Event
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return e, err
	}
	plain, err := s.sealer.Open(data)
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal(plain, &e); err != nil {
		return e, fmt.Errorf("decoding event: %w", err)
	}
	return e, nil
}

// Query returns matching events sorted by timestamp. Files that cannot be
// opened are skipped and counted in Unreadable.
func (s *FileStore) Query(ctx context.Context, f Filter) (res *QueryResult, err error) {
	ctx, end := tracing.StartSpan(ctx, "audit.query")
	defer func() { end(err) }()

	if err := f.validate(); err != nil {
		return nil, err
	}
	files, err := s.eventFiles()
	if err != nil {
		return nil, &StoreError{Op: "query", Path: s.dir, Err: err}
	}

	type slot struct {
		event Event
		ok    bool
	}
	slots := make([]slot, len(files))
	var unreadable atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e, err := s.readEvent(file.Name())
			if err != nil {
				unreadable.Add(1)
				s.logger.Warn("skipping unreadable audit file", "file", file.Name(), "error", err)
				return nil
			}
			if f.match(e) {
				slots[i] = slot{event: e, ok: true}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &StoreError{Op: "query", Path: s.dir, Err: err}
	}

	res = &QueryResult{Unreadable: int(unreadable.Load())}
	for _, sl := range slots {
		if sl.ok {
			res.Events = append(res.Events, sl.event)
		}
	}
	// Files are visited in name order, which is timestamp order; the stable
	// sort keeps collision suffixes in write order.
	sort.SliceStable(res.Events, func(i, j int) bool {
		return res.Events[i].Timestamp.Before(res.Events[j].Timestamp)
	})
	s.metrics.AddUnreadable(res.Unreadable)
	return res, nil
}

// SweepRetention removes event files created at or before now minus days.
// Files are written once, so modification time is their creation time.
func (s *FileStore) SweepRetention(ctx context.Context, days int) (removed int, err error) {
	ctx, end := tracing.StartSpan(ctx, "audit.sweep_retention", attribute.Int("audit.retention_days", days))
	defer func() { end(err) }()

	if days < 0 {
		return 0, ErrNegativeRetention
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	files, err := s.eventFiles()
	if err != nil {
		return 0, &StoreError{Op: "sweep", Path: s.dir, Err: err}
	}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			s.metrics.AddRetentionRemoved(removed)
			return removed, &StoreError{Op: "sweep", Err: err}
		}
		info, err := file.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, &StoreError{Op: "sweep", Path: file.Name(), Err: err}
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, file.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.metrics.AddRetentionRemoved(removed)
			return removed, &StoreError{Op: "sweep", Path: file.Name(), Err: err}
		}
		removed++
	}
	s.metrics.AddRetentionRemoved(removed)
	s.logger.Info("retention sweep complete", "retention_days", days, "removed", removed)
	return removed, nil
}

// Export materializes the events between start and end. It never writes to
// the store.
func (s *FileStore) Export(ctx context.Context, start, end time.Time, exportedBy string) (*Export, error) {
	res, err := s.Query(ctx, Filter{Start: start, End: end})
	if err != nil {
		return nil, err
	}
	return &Export{
		ExportDate: s.now().UTC(),
		ExportedBy: exportedBy,
		DateRange:  DateRange{Start: start, End: end},
		Events:     res.Events,
		Unreadable: res.Unreadable,
	}, nil
}

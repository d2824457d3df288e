package compliance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/phiguard/internal/audit"
	"github.com/dshills/phiguard/internal/auditor"
	"github.com/dshills/phiguard/internal/config"
	"github.com/dshills/phiguard/internal/deid"
	"github.com/dshills/phiguard/internal/llm"
	"github.com/dshills/phiguard/internal/phi"
	"github.com/dshills/phiguard/internal/policy"
	"github.com/dshills/phiguard/internal/seal"
)

const contactLine = "Contact John Smith at john.smith@example.com or 555-123-4567"

type hangingProvider struct{}

func (hangingProvider) Complete(ctx context.Context, _ *llm.Request) (*llm.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fixedProvider string

func (p fixedProvider) Complete(context.Context, *llm.Request) (*llm.Response, error) {
	return &llm.Response{Content: string(p), Model: "fixed-model"}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.AuditDir = t.TempDir()
	cfg.AssistedRate = 0
	return cfg
}

func newCore(t *testing.T, cfg *config.Config, p llm.Provider) *Core {
	t.Helper()
	c, err := New(Options{
		Config:     cfg,
		Sealer:     seal.NewRandom(),
		Provider:   p,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return c
}

func closeAndQuery(t *testing.T, c *Core) []audit.Event {
	t.Helper()
	require.NoError(t, c.Close(context.Background()))
	res, err := c.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Zero(t, res.Unreadable)
	return res.Events
}

func TestDeidentify_RecordsSummaryEvent(t *testing.T) {
	c := newCore(t, testConfig(t), nil)
	sid := uuid.New()
	actor := Actor{UserID: "caseworker-17", SessionID: &sid}

	res, err := c.Deidentify(context.Background(), actor, contactLine, policy.UploadedDocument)
	require.NoError(t, err)
	assert.Len(t, phi.FindPlaceholders(res.RedactedText), 3)

	events := closeAndQuery(t, c)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, audit.EventPHIRedacted, e.EventType)
	assert.Equal(t, "caseworker-17", e.UserID)
	require.NotNil(t, e.SessionID)
	assert.Equal(t, sid, *e.SessionID)
	assert.Equal(t, "3", e.Details[auditor.DetailRedactionCount])
	assert.Equal(t, "email=1,name=1,phone=1", e.Details[auditor.DetailCategories])
	assert.Equal(t, "uploaded_document", e.Details[DetailContext])
	assert.Equal(t, "deterministic", e.Details[DetailPath])
	assert.Equal(t, "false", e.Details[DetailUsedFallback])
	assert.NotContains(t, e.Details, DetailFallbackReason)
}

func TestDeidentify_FallbackEvent(t *testing.T) {
	cfg := testConfig(t)
	cfg.AssistedTimeout = 20 * time.Millisecond
	c := newCore(t, cfg, hangingProvider{})

	res, err := c.Deidentify(context.Background(), Actor{UserID: "u"}, contactLine, policy.StoredRecord)
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)

	events := closeAndQuery(t, c)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventPHIRedactionFallback, events[0].EventType)
	assert.Equal(t, deid.ReasonTimeout, events[0].Details[DetailFallbackReason])
	assert.Equal(t, "true", events[0].Details[DetailUsedFallback])
}

func TestDeidentify_AssistedEventNamesModel(t *testing.T) {
	c := newCore(t, testConfig(t), fixedProvider("Contact [REDACTED_NAME] at [REDACTED_EMAIL] or [REDACTED_PHONE]"))
	_, err := c.Deidentify(context.Background(), Actor{UserID: "u"}, contactLine, policy.StoredRecord)
	require.NoError(t, err)

	events := closeAndQuery(t, c)
	require.Len(t, events, 1)
	assert.Equal(t, "fixed-model", events[0].Details[DetailModel])
	assert.Equal(t, "assisted", events[0].Details[DetailPath])
	assert.Equal(t, "email=1,name=1,phone=1", events[0].Details[auditor.DetailCategories])
}

func TestNoPHIInAudit(t *testing.T) {
	c := newCore(t, testConfig(t), nil)
	ctx := context.Background()
	actor := Actor{UserID: "caseworker-17"}

	inputs := []struct {
		text string
		uc   policy.UsageContext
	}{
		{contactLine, policy.UploadedDocument},
		{"What are the PTSD rating criteria for a 72 year old veteran?", policy.UserQuery},
		{"SSN: 123-45-6789", policy.UserQuery},
		{"Patient: Maria Lopez, DOB 04/12/1961, MRN: 00482913, lives at 42 Elm Street.", policy.StoredRecord},
		{"Seen by Dr. Alvarez at Walter Reed Medical Center on March 4, 2019.", policy.StoredRecord},
		{"Veteran: James O. Carter, C-file: 12345678, PO Box 88, Springfield, IL 62704", policy.UploadedDocument},
	}
	for _, in := range inputs {
		_, err := c.Deidentify(ctx, actor, in.text, in.uc)
		require.NoError(t, err)
	}
	require.NoError(t, c.Record(actor, audit.EventMessageSent, map[string]string{"attachments": "2"}))
	_, err := c.Export(ctx, actor, time.Time{}, time.Time{})
	require.NoError(t, err)
	_, err = c.SweepRetention(ctx, actor, 30)
	require.NoError(t, err)

	events := closeAndQuery(t, c)
	require.Len(t, events, len(inputs)+3)
	table := c.Table()
	for _, e := range events {
		assert.NotContains(t, e.Details, audit.DetailFilteredFields, "%s produced a value the filter had to catch", e.EventType)
		for k, v := range e.Details {
			assert.False(t, table.Contains(v, phi.TierFull), "%s detail %s=%q is flagged", e.EventType, k, v)
		}
	}
}

func TestRecord_FiltersPHI(t *testing.T) {
	c := newCore(t, testConfig(t), nil)
	require.NoError(t, c.Record(Actor{UserID: "u"}, audit.EventDocumentUploaded, map[string]string{
		"note": "from john.smith@example.com",
	}))
	events := closeAndQuery(t, c)
	require.Len(t, events, 1)
	assert.Equal(t, audit.FilteredValue, events[0].Details["note"])
}

func TestRecord_UnknownType(t *testing.T) {
	c := newCore(t, testConfig(t), nil)
	defer c.Close(context.Background())
	err := c.Record(Actor{}, "bogus", nil)
	assert.ErrorIs(t, err, audit.ErrUnknownEventType)
}

func TestExport_RecordsExportEvent(t *testing.T) {
	c := newCore(t, testConfig(t), nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Record(Actor{UserID: "u"}, audit.EventRecordAccessed, nil))
	}
	require.NoError(t, c.Close(ctx))

	// A closed core still reads; the export event itself is dropped.
	exp, err := c.Export(ctx, Actor{UserID: "officer"}, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, exp.Events, 3)
	assert.Equal(t, "officer", exp.ExportedBy)
	assert.Zero(t, exp.Unreadable)

	res, err := c.Query(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, res.Events, 3)

	// A core holding a different key sees the same files as unreadable.
	c2 := newCore(t, c.Config(), nil)
	defer c2.Close(ctx)
	exp2, err := c2.Export(ctx, Actor{UserID: "officer"}, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, exp2.Events)
	assert.Equal(t, 3, exp2.Unreadable)
}

func TestExport_EventPersisted(t *testing.T) {
	c := newCore(t, testConfig(t), nil)
	ctx := context.Background()
	_, err := c.Export(ctx, Actor{UserID: "officer"}, time.Time{}, time.Time{})
	require.NoError(t, err)

	events := closeAndQuery(t, c)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventAuditExported, events[0].EventType)
	assert.Equal(t, "0", events[0].Details[DetailEventCount])
}

func TestSweepRetention_DefaultsToConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetentionDays = 10
	c := newCore(t, cfg, nil)
	ctx := context.Background()

	require.NoError(t, c.Record(Actor{UserID: "u"}, audit.EventSessionStarted, nil))
	require.NoError(t, c.Close(ctx))

	// Age the one event past the window.
	entries, err := os.ReadDir(cfg.AuditDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	old := time.Now().Add(-11 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(cfg.AuditDir, entries[0].Name()), old, old))

	c2 := newCore(t, cfg, nil)
	defer c2.Close(ctx)
	removed, err := c2.SweepRetention(ctx, Actor{UserID: "admin"}, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad := testConfig(t)
	bad.Strategy = "sometimes"
	_, err = New(Options{Config: bad, Sealer: seal.NewRandom()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, config.ErrUnknownStrategy)

	_, err = New(Options{Config: testConfig(t)})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, ErrNoAuditKey)

	withModel := testConfig(t)
	withModel.Model = "carrier-pigeon:v1"
	_, err = New(Options{Config: withModel, Sealer: seal.NewRandom()})
	assert.ErrorIs(t, err, ErrProvider)

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	blocked := testConfig(t)
	blocked.AuditDir = filepath.Join(file, "audit")
	_, err = New(Options{Config: blocked, Sealer: seal.NewRandom()})
	var se *audit.StoreError
	assert.True(t, errors.As(err, &se))
}

func TestNew_KeyFromConfig(t *testing.T) {
	key, err := seal.GenerateKey()
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.AuditKey = key
	c, err := New(Options{Config: cfg})
	require.NoError(t, err)
	require.NoError(t, c.Record(Actor{UserID: "u"}, audit.EventLoginSucceeded, nil))
	require.NoError(t, c.Close(context.Background()))

	keyFile := filepath.Join(t.TempDir(), "audit.key")
	require.NoError(t, os.WriteFile(keyFile, []byte(key+"\n"), 0o600))
	cfg2 := *cfg
	cfg2.AuditKey = ""
	cfg2.AuditKeyFile = keyFile
	c2, err := New(Options{Config: &cfg2})
	require.NoError(t, err)
	events := closeAndQuery(t, c2)
	require.Len(t, events, 1, "the same key must open earlier records")
	assert.Equal(t, audit.EventLoginSucceeded, events[0].EventType)
}

func TestShouldDeidentify(t *testing.T) {
	c := newCore(t, testConfig(t), nil)
	defer c.Close(context.Background())
	assert.False(t, c.ShouldDeidentify("What are the PTSD rating criteria for a 72 year old veteran?", policy.UserQuery))
	assert.True(t, c.ShouldDeidentify("SSN: 123-45-6789", policy.UserQuery))
	assert.True(t, c.ShouldDeidentify("", policy.StoredRecord))
	assert.True(t, c.ShouldDeidentify("", policy.UploadedDocument))
}

package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/visionq/internal/auditlog"
	"github.com/vnmchuo/visionq/internal/job"
	"github.com/vnmchuo/visionq/internal/telemetry"
)

type mockAudit struct {
	mu        sync.Mutex
	nextID    int64
	records   []*auditlog.Record
	createErr error
	onCreate  func()
}

func (m *mockAudit) Create(ctx context.Context, rec *auditlog.Record) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	m.records = append(m.records, rec)
	if m.onCreate != nil {
		m.onCreate()
	}
	return nil
}

func (m *mockAudit) UpdateOutput(ctx context.Context, id int64, output, model string) error {
	return errors.New("dispatcher must not update records")
}

func (m *mockAudit) Get(ctx context.Context, id int64) (*auditlog.Record, error) {
	return nil, job.ErrNotFound
}

type mockPublisher struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
	// audit lets the publisher observe insert-before-publish ordering.
	audit       *mockAudit
	seenRecords []int
	ctxErrs     []error
	deadlines   []bool
}

func (m *mockPublisher) Publish(ctx context.Context, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	m.deadlines = append(m.deadlines, hasDeadline)
	if m.audit != nil {
		m.audit.mu.Lock()
		m.seenRecords = append(m.seenRecords, len(m.audit.records))
		m.audit.mu.Unlock()
	}
	if m.err != nil {
		return m.err
	}
	m.bodies = append(m.bodies, body)
	return nil
}

func setup() (*Dispatcher, *mockAudit, *mockPublisher) {
	audit := &mockAudit{}
	pub := &mockPublisher{audit: audit}
	d := New(audit, pub, "gemini-2.5-flash", "Describe this image...", telemetry.Discard(), noop.NewTracerProvider().Tracer("test"))
	return d, audit, pub
}

func TestSubmit_TextOnly(t *testing.T) {
	d, audit, pub := setup()

	receipt, err := d.Submit(context.Background(), job.Request{TextPrompt: "Hello, who are you?"})
	require.NoError(t, err)
	assert.Equal(t, "queued", receipt.Status)
	assert.Equal(t, int64(1), receipt.RecordID)

	require.Len(t, audit.records, 1)
	rec := audit.records[0]
	assert.Nil(t, rec.ImageURL)
	assert.True(t, rec.Pending(job.ProcessingSentinel))
	assert.Equal(t, job.ProcessingSentinel, *rec.Output)
	assert.Equal(t, "gemini-2.5-flash", rec.ModelUsed)

	require.Len(t, pub.bodies, 1)
	msg, err := job.DecodeMessage(pub.bodies[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.RecordID)
	assert.Equal(t, "Hello, who are you?", msg.TextPrompt)
	assert.Empty(t, msg.ImageURL)
}

func TestSubmit_ImageOnlyUsesDefaultPrompt(t *testing.T) {
	d, audit, pub := setup()

	_, err := d.Submit(context.Background(), job.Request{ImageURL: "https://example.com/cat.jpg"})
	require.NoError(t, err)

	require.NotNil(t, audit.records[0].ImageURL)
	assert.Equal(t, "https://example.com/cat.jpg", *audit.records[0].ImageURL)
	assert.Equal(t, "Describe this image...", audit.records[0].TextPrompt)

	msg, err := job.DecodeMessage(pub.bodies[0])
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cat.jpg", msg.ImageURL)
	assert.Equal(t, "Describe this image...", msg.TextPrompt)
}

func TestSubmit_InsertsBeforePublish(t *testing.T) {
	d, _, pub := setup()

	_, err := d.Submit(context.Background(), job.Request{TextPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, pub.seenRecords)
}

func TestSubmit_PublishSurvivesCallerCancel(t *testing.T) {
	d, audit, pub := setup()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	audit.onCreate = cancel

	receipt, err := d.Submit(ctx, job.Request{TextPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), receipt.RecordID)

	require.Len(t, pub.bodies, 1)
	assert.NoError(t, pub.ctxErrs[0])
	assert.True(t, pub.deadlines[0], "publish should run under its own deadline")
}

func TestSubmit_EmptyRequest(t *testing.T) {
	d, audit, pub := setup()

	_, err := d.Submit(context.Background(), job.Request{TextPrompt: "   "})
	assert.ErrorIs(t, err, job.ErrInvalidRequest)
	assert.Empty(t, audit.records)
	assert.Empty(t, pub.bodies)
}

func TestSubmit_InsertFailurePublishesNothing(t *testing.T) {
	d, audit, pub := setup()
	audit.createErr = errors.New("connection refused")

	_, err := d.Submit(context.Background(), job.Request{TextPrompt: "x"})
	assert.ErrorIs(t, err, job.ErrPersistence)
	assert.Empty(t, pub.seenRecords)
}

func TestSubmit_PublishFailureLeavesOrphan(t *testing.T) {
	d, audit, pub := setup()
	pub.err = errors.New("broker down")

	_, err := d.Submit(context.Background(), job.Request{TextPrompt: "x"})
	assert.ErrorIs(t, err, job.ErrQueueUnavailable)
	require.Len(t, audit.records, 1)
	assert.True(t, audit.records[0].Pending(job.ProcessingSentinel))
}

func TestSubmit_ConcurrentDistinctIDs(t *testing.T) {
	d, _, pub := setup()
	const n = 25

	var wg sync.WaitGroup
	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := d.Submit(context.Background(), job.Request{TextPrompt: "x"})
			if err == nil {
				ids <- r.RecordID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Len(t, pub.bodies, n)
}

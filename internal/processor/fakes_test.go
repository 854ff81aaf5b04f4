package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/visionq/internal/auditlog"
	"github.com/vnmchuo/visionq/internal/job"
	"github.com/vnmchuo/visionq/internal/provider"
	"github.com/vnmchuo/visionq/internal/queue"
	"github.com/vnmchuo/visionq/internal/telemetry"
)

type memAudit struct {
	mu      sync.Mutex
	records map[int64]*auditlog.Record
	updates int
}

func newMemAudit(ids ...int64) *memAudit {
	a := &memAudit{records: map[int64]*auditlog.Record{}}
	for _, id := range ids {
		sentinel := job.ProcessingSentinel
		a.records[id] = &auditlog.Record{ID: id, Output: &sentinel}
	}
	return a
}

func (a *memAudit) Create(ctx context.Context, rec *auditlog.Record) error {
	return errors.New("not used")
}

func (a *memAudit) UpdateOutput(ctx context.Context, id int64, output, model string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[id]
	if !ok {
		return job.ErrNotFound
	}
	a.updates++
	rec.Output = &output
	if model != "" {
		rec.ModelUsed = model
	}
	return nil
}

func (a *memAudit) Get(ctx context.Context, id int64) (*auditlog.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (a *memAudit) output(id int64) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec, ok := a.records[id]; ok && rec.Output != nil {
		return *rec.Output
	}
	return ""
}

type memResults struct {
	mu      sync.Mutex
	docs    map[int64]job.Result
	putErr  error
	written chan int64
}

func newMemResults() *memResults {
	return &memResults{docs: map[int64]job.Result{}, written: make(chan int64, 64)}
}

func (r *memResults) Put(ctx context.Context, res *job.Result) error {
	if r.putErr != nil {
		return r.putErr
	}
	r.mu.Lock()
	r.docs[res.PostgresID] = *res
	r.mu.Unlock()
	r.written <- res.PostgresID
	return nil
}

func (r *memResults) Get(ctx context.Context, id int64) (*job.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return &doc, nil
}

func (r *memResults) UpdateDescription(ctx context.Context, id int64, description string) (*job.Result, error) {
	return nil, errors.New("not used")
}

func (r *memResults) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	delete(r.docs, id)
	r.mu.Unlock()
	return nil
}

func (r *memResults) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

type fakeInference struct {
	mu    sync.Mutex
	calls []*provider.Request
	fn    func(ctx context.Context, req *provider.Request) (*provider.Response, error)
}

func (f *fakeInference) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return &provider.Response{Content: "echo: " + req.Prompt, Provider: "fake", Model: req.Model}, nil
}

func (f *fakeInference) lastCall() *provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

// sliceConsumer hands out a fixed set of deliveries, then idles.
type sliceConsumer struct {
	mu         sync.Mutex
	deliveries []*queue.Delivery
}

func (c *sliceConsumer) Receive(ctx context.Context) (*queue.Delivery, error) {
	c.mu.Lock()
	if len(c.deliveries) > 0 {
		d := c.deliveries[0]
		c.deliveries = c.deliveries[1:]
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Millisecond):
	}
	return nil, nil
}

type ackCounter struct {
	mu    sync.Mutex
	count map[string]int
}

func newAckCounter() *ackCounter {
	return &ackCounter{count: map[string]int{}}
}

func (a *ackCounter) delivery(t *testing.T, id string, msg *job.Message) *queue.Delivery {
	t.Helper()
	body, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return a.raw(id, body)
}

func (a *ackCounter) raw(id string, body []byte) *queue.Delivery {
	return queue.NewDelivery(id, body, func(ctx context.Context) error {
		a.mu.Lock()
		a.count[id]++
		a.mu.Unlock()
		return nil
	})
}

func (a *ackCounter) acked(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count[id]
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

func imageServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != userAgent {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// unreachableURL points at a server that has already shut down.
func unreachableURL() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/gone.png"
	srv.Close()
	return url
}

type harness struct {
	audit     *memAudit
	results   *memResults
	inference *fakeInference
	acks      *ackCounter
	proc      *Processor
}

func newHarness(opts Options, auditIDs ...int64) *harness {
	h := &harness{
		audit:     newMemAudit(auditIDs...),
		results:   newMemResults(),
		inference: &fakeInference{},
		acks:      newAckCounter(),
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}
	if opts.StoreTimeout == 0 {
		opts.StoreTimeout = time.Second
	}
	h.proc = New(h.audit, h.results, h.inference, NewImageFetcher(2*time.Second, 1<<20), opts,
		telemetry.Discard(), noop.NewTracerProvider().Tracer("test"))
	return h
}

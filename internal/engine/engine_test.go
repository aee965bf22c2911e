package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nextvibe/nextvibe/internal/classify"
	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/llm"
	"github.com/nextvibe/nextvibe/internal/ratelimit"
	"github.com/nextvibe/nextvibe/internal/router"
	"github.com/nextvibe/nextvibe/internal/sandbox"
	"github.com/nextvibe/nextvibe/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// stubProvider returns canned responses in order, then repeats the last.
type stubProvider struct {
	responses []string
	err       error
	calls     int
}

func (s *stubProvider) Complete(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return &llm.Response{Content: s.responses[idx]}, nil
}

func (s *stubProvider) Name() string { return "stub" }

// stubSandbox returns a fixed result.
type stubSandbox struct {
	result  *sandbox.ExecutionResult
	err     error
	lastReq sandbox.ExecutionRequest
}

func (s *stubSandbox) Execute(_ context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	s.lastReq = req
	return s.result, s.err
}

// memStore is an in-memory storage.Store for engine tests.
type memStore struct {
	mu      sync.Mutex
	results []*domain.TaskResult
}

func (m *memStore) SaveResult(_ context.Context, res *domain.TaskResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	return nil
}

func (m *memStore) Result(_ context.Context, taskID uuid.UUID) (*domain.TaskResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.results {
		if r.TaskID == taskID {
			return r, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) History(_ context.Context, identity string, limit int) ([]*domain.TaskResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.TaskResult
	for i := len(m.results) - 1; i >= 0 && len(out) < limit; i-- {
		if m.results[i].Identity == identity {
			out = append(out, m.results[i])
		}
	}
	return out, nil
}

func (m *memStore) Prune(context.Context, time.Time) (int64, error) { return 0, nil }
func (m *memStore) Migrate(context.Context) error                   { return nil }
func (m *memStore) Ping(context.Context) error                      { return nil }
func (m *memStore) Close() error                                    { return nil }
func (m *memStore) Driver() string                                  { return "memory" }

func (m *memStore) saved() []*domain.TaskResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.TaskResult(nil), m.results...)
}

// newTestEngine wires an engine around the given provider and sandbox with
// a wide-open rate limit.
func newTestEngine(t *testing.T, provider llm.Provider, sb sandbox.Sandbox, store storage.Store, cfg Config) *Engine {
	t.Helper()
	logger := discardLogger()
	dispatcher := router.NewDispatcher(logger)
	handler := NewTaskHandler(llm.NewGenerator(provider, logger), sb, ExecLimits{}, logger)
	for _, cat := range domain.CategoryPriority {
		dispatcher.Register(cat, handler)
	}
	return NewEngine(
		ratelimit.NewLimiter(ratelimit.Config{}),
		classify.NewPipeline(logger),
		dispatcher,
		store,
		nil,
		logger,
		cfg,
	)
}

func TestHandleRequest_SuccessWithExecution(t *testing.T) {
	provider := &stubProvider{responses: []string{"Prints hi.\n```python\nprint('hi')\n```"}}
	sb := &stubSandbox{result: &sandbox.ExecutionResult{
		Status:   domain.ExecSuccess,
		Stdout:   "hi\n",
		Duration: 120 * time.Millisecond,
	}}
	store := &memStore{}
	e := newTestEngine(t, provider, sb, store, Config{})

	res, err := e.HandleRequest(context.Background(), "alice", "print hi", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failed() {
		t.Fatalf("unexpected failure: %+v", res.Error)
	}
	if res.Narrative != "Prints hi." {
		t.Errorf("narrative = %q", res.Narrative)
	}
	if res.Execution == nil || res.Execution.Stdout != "hi\n" {
		t.Errorf("execution = %+v", res.Execution)
	}
	if sb.lastReq.Language != "python" || sb.lastReq.Source != "print('hi')" {
		t.Errorf("sandbox request = %+v", sb.lastReq)
	}

	saved := store.saved()
	if len(saved) != 1 || saved[0].TaskID != res.TaskID {
		t.Errorf("history did not record the result: %+v", saved)
	}
}

func TestHandleRequest_ProseOnlySkipsSandbox(t *testing.T) {
	provider := &stubProvider{responses: []string{"That function is O(n log n)."}}
	sb := &stubSandbox{result: &sandbox.ExecutionResult{Status: domain.ExecSuccess}}
	e := newTestEngine(t, provider, sb, nil, Config{})

	res, err := e.HandleRequest(context.Background(), "alice", "what's the complexity?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Execution != nil {
		t.Errorf("prose-only answer must not execute anything: %+v", res.Execution)
	}
	if sb.lastReq.Source != "" {
		t.Error("sandbox was invoked for a prose-only answer")
	}
}

func TestHandleRequest_AdmissionDenied(t *testing.T) {
	provider := &stubProvider{responses: []string{"ok"}}
	e := newTestEngine(t, provider, &stubSandbox{}, nil, Config{})
	e.limiter = ratelimit.NewLimiter(ratelimit.Config{Limit: 1, Window: time.Minute})

	if _, err := e.HandleRequest(context.Background(), "alice", "first", nil); err != nil {
		t.Fatalf("first request: %v", err)
	}

	res, err := e.HandleRequest(context.Background(), "alice", "second", nil)
	if err != nil {
		t.Fatalf("denied request must still return a result: %v", err)
	}
	if res.Error == nil || res.Error.Code != domain.ErrCodeAdmissionDenied {
		t.Fatalf("error = %+v, want admission_denied", res.Error)
	}
	if res.Error.RetryAfter <= 0 {
		t.Errorf("retry after = %v, want > 0", res.Error.RetryAfter)
	}

	// A different identity is unaffected.
	if res, _ := e.HandleRequest(context.Background(), "bob", "hello", nil); res.Failed() {
		t.Errorf("bob should be admitted: %+v", res.Error)
	}
}

func TestHandleRequest_BusyIdentity(t *testing.T) {
	logger := discardLogger()
	dispatcher := router.NewDispatcher(logger)

	started := make(chan struct{})
	release := make(chan struct{})
	dispatcher.Register(domain.CategoryGeneral, router.HandlerFunc(
		func(ctx context.Context, task *domain.Task) (*domain.TaskResult, error) {
			close(started)
			<-release
			return Assemble(task, "done", nil), nil
		}))

	e := NewEngine(
		ratelimit.NewLimiter(ratelimit.Config{}),
		classify.NewPipeline(logger),
		dispatcher,
		nil,
		nil,
		logger,
		Config{},
	)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.HandleRequest(context.Background(), "alice", "long task", nil)
		errCh <- err
	}()
	<-started

	res, err := e.HandleRequest(context.Background(), "alice", "second task", nil)
	if err != nil {
		t.Fatalf("busy rejection must still return a result: %v", err)
	}
	if res.Error == nil || res.Error.Code != domain.ErrCodeBusy {
		t.Fatalf("error = %+v, want busy", res.Error)
	}

	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("first request: %v", err)
	}
}

func TestHandleRequest_CollaboratorUnavailable(t *testing.T) {
	provider := &stubProvider{err: errors.New("upstream 503")}
	e := newTestEngine(t, provider, &stubSandbox{}, nil, Config{})

	res, err := e.HandleRequest(context.Background(), "alice", "do something", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Error == nil || res.Error.Code != domain.ErrCodeCollaboratorUnavailable {
		t.Fatalf("error = %+v, want collaborator_unavailable", res.Error)
	}
	// The raw upstream error must not leak into the user-visible message.
	if res.Error.Message == "" || res.Error.Message == "upstream 503" {
		t.Errorf("message = %q", res.Error.Message)
	}
}

func TestHandleRequest_CallerCancellation(t *testing.T) {
	logger := discardLogger()
	dispatcher := router.NewDispatcher(logger)
	dispatcher.Register(domain.CategoryGeneral, router.HandlerFunc(
		func(ctx context.Context, _ *domain.Task) (*domain.TaskResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	e := NewEngine(
		ratelimit.NewLimiter(ratelimit.Config{}),
		classify.NewPipeline(logger),
		dispatcher,
		nil,
		nil,
		logger,
		Config{},
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res, err := e.HandleRequest(ctx, "alice", "task", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res != nil {
		t.Errorf("canceled request must not produce a result: %+v", res)
	}
}

func TestHandleRequest_TaskTimeoutBecomesResult(t *testing.T) {
	logger := discardLogger()
	dispatcher := router.NewDispatcher(logger)
	dispatcher.Register(domain.CategoryGeneral, router.HandlerFunc(
		func(ctx context.Context, _ *domain.Task) (*domain.TaskResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	e := NewEngine(
		ratelimit.NewLimiter(ratelimit.Config{}),
		classify.NewPipeline(logger),
		dispatcher,
		nil,
		nil,
		logger,
		Config{TaskTimeout: 50 * time.Millisecond},
	)

	res, err := e.HandleRequest(context.Background(), "alice", "slow task", nil)
	if err != nil {
		t.Fatalf("engine deadline must yield a result, got error: %v", err)
	}
	if res.Error == nil || res.Error.Code != domain.ErrCodeTimeout {
		t.Fatalf("error = %+v, want timeout", res.Error)
	}
}

func TestHandleRequest_PanicIsSanitized(t *testing.T) {
	logger := discardLogger()
	dispatcher := router.NewDispatcher(logger)
	dispatcher.Register(domain.CategoryGeneral, router.HandlerFunc(
		func(context.Context, *domain.Task) (*domain.TaskResult, error) {
			panic("nil map write at /srv/app/internal/engine/engine.go:42")
		}))

	e := NewEngine(
		ratelimit.NewLimiter(ratelimit.Config{}),
		classify.NewPipeline(logger),
		dispatcher,
		nil,
		nil,
		logger,
		Config{},
	)

	res, err := e.HandleRequest(context.Background(), "alice", "task", nil)
	if err != nil {
		t.Fatalf("panic must not escape as an error: %v", err)
	}
	if res.Error == nil || res.Error.Code != domain.ErrCodeSandbox {
		t.Fatalf("error = %+v", res.Error)
	}
	if got := res.Error.Message; got == "" || strings.Contains(got, "/srv/app") || strings.Contains(got, "panic") {
		t.Errorf("message leaks internals: %q", got)
	}

	// The identity must not be locked out after the panic.
	if e.dispatcher.InFlight("alice") {
		t.Error("in-flight flag leaked after panic")
	}
}

func TestHandleRequest_TruncatesOversizedInput(t *testing.T) {
	logger := discardLogger()
	dispatcher := router.NewDispatcher(logger)

	var gotInput string
	dispatcher.Register(domain.CategoryGeneral, router.HandlerFunc(
		func(_ context.Context, task *domain.Task) (*domain.TaskResult, error) {
			gotInput = task.RawInput
			return Assemble(task, "ok", nil), nil
		}))

	e := NewEngine(
		ratelimit.NewLimiter(ratelimit.Config{}),
		classify.NewPipeline(logger),
		dispatcher,
		nil,
		nil,
		logger,
		Config{MaxInputBytes: 10},
	)

	if _, err := e.HandleRequest(context.Background(), "alice", "0123456789ABCDEF", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotInput != "0123456789" {
		t.Errorf("raw input = %q, want first 10 bytes", gotInput)
	}
}

func TestHandleRequest_TruncationKeepsValidUTF8(t *testing.T) {
	logger := discardLogger()
	dispatcher := router.NewDispatcher(logger)

	var gotInput string
	dispatcher.Register(domain.CategoryGeneral, router.HandlerFunc(
		func(_ context.Context, task *domain.Task) (*domain.TaskResult, error) {
			gotInput = task.RawInput
			return Assemble(task, "ok", nil), nil
		}))

	e := NewEngine(
		ratelimit.NewLimiter(ratelimit.Config{}),
		classify.NewPipeline(logger),
		dispatcher,
		nil,
		nil,
		logger,
		Config{MaxInputBytes: 9},
	)

	// "héllo wörld" is 8 bytes through "héllo w"; byte 9 lands inside the
	// two-byte ö, so the cut must step back to the rune boundary rather
	// than emit a dangling lead byte.
	if _, err := e.HandleRequest(context.Background(), "alice", "héllo wörld", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !utf8.ValidString(gotInput) {
		t.Fatalf("truncated input is not valid UTF-8: %q", gotInput)
	}
	if gotInput != "héllo w" {
		t.Errorf("raw input = %q, want %q", gotInput, "héllo w")
	}
}

func TestHistoryAndResultLookup(t *testing.T) {
	provider := &stubProvider{responses: []string{"done"}}
	store := &memStore{}
	e := newTestEngine(t, provider, &stubSandbox{}, store, Config{})

	res, err := e.HandleRequest(context.Background(), "alice", "task", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	history, err := e.History(context.Background(), "alice", 5)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].TaskID != res.TaskID {
		t.Errorf("history = %+v", history)
	}

	got, err := e.Result(context.Background(), res.TaskID.String())
	if err != nil {
		t.Fatalf("result lookup: %v", err)
	}
	if got.TaskID != res.TaskID {
		t.Errorf("looked up %s, want %s", got.TaskID, res.TaskID)
	}

	if _, err := e.Result(context.Background(), "not-a-uuid"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("bad id err = %v, want ErrNotFound", err)
	}
}

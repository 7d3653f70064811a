package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viniciushammett/go-log-relearn/internal/logger"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func executor(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.Method != http.MethodPost || r.URL.Path != "/actions/restart_agent" {
			http.NotFound(w, r)
			return
		}
		var body struct{ Host string }
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.Header.Get("X-Request-ID") == "" {
			http.Error(w, "missing request id", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "restarted": body.Host})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newDispatcher(providers map[string]string, limit int, c *clock) *Dispatcher {
	return New(logger.Nop(), Config{Providers: providers, MaxPerHostHour: limit, Now: c.Now})
}

func TestRestartAgentSucceeds(t *testing.T) {
	var calls int32
	srv := executor(t, &calls)
	d := newDispatcher(map[string]string{"p": srv.URL + "/"}, 3, &clock{t: time.Unix(1000, 0)})

	res := d.RestartAgent(context.Background(), "p", "web-1")
	require.Equal(t, KindSucceeded, res.Kind())
	assert.True(t, res.OK())

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"restarted":"web-1"}`, string(out))
	assert.EqualValues(t, 1, calls)
}

func TestRateLimitWindow(t *testing.T) {
	var calls int32
	srv := executor(t, &calls)
	c := &clock{t: time.Unix(1000, 0)}
	d := newDispatcher(map[string]string{"p": srv.URL}, 3, c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Equal(t, KindSucceeded, d.RestartAgent(ctx, "p", "h").Kind())
		c.Advance(time.Minute)
	}
	res := d.RestartAgent(ctx, "p", "h")
	assert.Equal(t, KindRateLimited, res.Kind())
	out, _ := json.Marshal(res)
	assert.JSONEq(t, `{"ok":false,"reason":"rate_limited"}`, string(out))
	assert.EqualValues(t, 3, calls, "rate limited calls never reach the provider")

	// outro host tem janela propria
	assert.Equal(t, KindSucceeded, d.RestartAgent(ctx, "p", "other").Kind())

	c.Advance(time.Hour)
	assert.Equal(t, KindSucceeded, d.RestartAgent(ctx, "p", "h").Kind())
	assert.Equal(t, 1, d.Recent("h", ActionRestartAgent))
}

func TestWindowBoundaryIsExclusive(t *testing.T) {
	var calls int32
	srv := executor(t, &calls)
	c := &clock{t: time.Unix(5000, 0)}
	d := newDispatcher(map[string]string{"p": srv.URL}, 1, c)
	ctx := context.Background()

	require.True(t, d.RestartAgent(ctx, "p", "h").OK())
	c.Advance(time.Hour - time.Second)
	assert.Equal(t, KindRateLimited, d.RestartAgent(ctx, "p", "h").Kind())
	c.Advance(time.Second)
	assert.True(t, d.RestartAgent(ctx, "p", "h").OK())
}

func TestUnknownProviderLeavesWindowAlone(t *testing.T) {
	var calls int32
	srv := executor(t, &calls)
	d := newDispatcher(map[string]string{"p": srv.URL}, 1, &clock{t: time.Unix(1000, 0)})
	ctx := context.Background()

	res := d.RestartAgent(ctx, "nonexistent", "h")
	assert.Equal(t, KindUnknownProvider, res.Kind())
	out, _ := json.Marshal(res)
	assert.JSONEq(t, `{"ok":false,"reason":"unknown_provider"}`, string(out))
	assert.Equal(t, 0, d.Recent("h", ActionRestartAgent))
	assert.EqualValues(t, 0, calls)

	assert.Equal(t, KindSucceeded, d.RestartAgent(ctx, "p", "h").Kind())
}

func TestProviderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	d := newDispatcher(map[string]string{"p": srv.URL}, 3, &clock{t: time.Unix(1000, 0)})

	res := d.RestartAgent(context.Background(), "p", "h")
	require.Equal(t, KindProviderRejected, res.Kind())
	assert.Equal(t, http.StatusServiceUnavailable, res.(ProviderRejected).Status)
	out, _ := json.Marshal(res)
	assert.JSONEq(t, `{"ok":false,"status":503}`, string(out))
	// a tentativa consome a janela mesmo com falha
	assert.Equal(t, 1, d.Recent("h", ActionRestartAgent))
}

func TestProviderUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	d := newDispatcher(map[string]string{"p": url}, 3, &clock{t: time.Unix(1000, 0)})

	res := d.RestartAgent(context.Background(), "p", "h")
	require.Equal(t, KindProviderUnavailable, res.Kind())
	assert.NotEmpty(t, res.(ProviderUnavailable).Err)

	var body map[string]any
	out, _ := json.Marshal(res)
	require.NoError(t, json.Unmarshal(out, &body))
	assert.Equal(t, false, body["ok"])
	assert.Contains(t, body, "error")
}

func TestProviderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	d := New(logger.Nop(), Config{
		Providers: map[string]string{"p": srv.URL},
		Timeout:   50 * time.Millisecond,
	})
	assert.Equal(t, KindProviderUnavailable, d.RestartAgent(context.Background(), "p", "h").Kind())
}

func TestNonJSONBodyIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("restarted"))
	}))
	defer srv.Close()
	d := newDispatcher(map[string]string{"p": srv.URL}, 3, &clock{t: time.Unix(1000, 0)})
	assert.Equal(t, KindProviderUnavailable, d.RestartAgent(context.Background(), "p", "h").Kind())
}

func TestConcurrentCallsRespectLimit(t *testing.T) {
	var calls int32
	srv := executor(t, &calls)
	d := newDispatcher(map[string]string{"p": srv.URL}, 3, &clock{t: time.Unix(1000, 0)})

	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.RestartAgent(context.Background(), "p", "h").OK() {
				atomic.AddInt32(&ok, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 3, ok)
	assert.EqualValues(t, 3, calls)
}

func TestRateWindowEvictsStaleKeys(t *testing.T) {
	w := newRateWindow(2, time.Hour, 2)
	t0 := time.Unix(0, 0)

	assert.True(t, w.admit("a", t0))
	assert.True(t, w.admit("b", t0.Add(time.Minute)))
	assert.True(t, w.admit("c", t0.Add(2*time.Minute)))
	assert.Len(t, w.keys, 2)
	assert.NotContains(t, w.keys, "a", "oldest activity is evicted")

	later := t0.Add(3 * time.Hour)
	assert.True(t, w.admit("d", later))
	assert.True(t, w.admit("e", later))
	assert.Len(t, w.keys, 2)
	assert.Contains(t, w.keys, "d")
	assert.Contains(t, w.keys, "e")
}

// Package actions sends rate-limited remedial requests to external
// executors ("providers") addressed by name.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"

	"github.com/viniciushammett/go-log-relearn/internal/logger"
	"github.com/viniciushammett/go-log-relearn/internal/metrics"
)

const (
	ActionRestartAgent = "restart_agent"

	DefaultWindow  = time.Hour
	DefaultTimeout = 5 * time.Second
	maxBody        = 1 << 20
)

type Config struct {
	Providers      map[string]string // name -> base URL
	MaxPerHostHour int
	Timeout        time.Duration
	MaxTrackedKeys int
	Window         time.Duration
	Now            func() time.Time
	Client         *http.Client
}

type Dispatcher struct {
	log       *logger.Logger
	providers map[string]string
	limit     int
	client    *http.Client
	now       func() time.Time

	mu     sync.Mutex
	window *rateWindow
}

func New(log *logger.Logger, cfg Config) *Dispatcher {
	if cfg.MaxPerHostHour < 1 {
		cfg.MaxPerHostHour = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxTrackedKeys <= 0 {
		cfg.MaxTrackedKeys = 10000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	cl := *cfg.Client
	cl.Timeout = cfg.Timeout

	providers := make(map[string]string, len(cfg.Providers))
	for name, base := range cfg.Providers {
		providers[name] = strings.TrimRight(base, "/")
	}
	return &Dispatcher{
		log:       log,
		providers: providers,
		limit:     cfg.MaxPerHostHour,
		client:    &cl,
		now:       cfg.Now,
		window:    newRateWindow(cfg.MaxPerHostHour, cfg.Window, cfg.MaxTrackedKeys),
	}
}

// HasProvider reports whether name is configured.
func (d *Dispatcher) HasProvider(name string) bool {
	_, ok := d.providers[name]
	return ok
}

// Recent returns how many admissions the key (host, action) holds in the
// current window.
func (d *Dispatcher) Recent(host, action string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.window.count(windowKey(host, action), d.now())
}

// RestartAgent asks provider to restart the agent on host. It never fails
// past its own boundary: every outcome is a Result.
func (d *Dispatcher) RestartAgent(ctx context.Context, provider, host string) Result {
	ctx, span := otel.Tracer("actions").Start(ctx, ActionRestartAgent)
	defer span.End()
	span.SetAttributes(attribute.String("provider", provider), attribute.String("host", host))

	res := d.restartAgent(ctx, provider, host)
	metrics.Actions.WithLabelValues(provider, string(res.Kind())).Inc()
	span.SetAttributes(attribute.String("outcome", string(res.Kind())))
	if !res.OK() {
		span.SetStatus(codes.Error, string(res.Kind()))
	}
	return res
}

func (d *Dispatcher) restartAgent(ctx context.Context, provider, host string) Result {
	base, ok := d.providers[provider]
	if !ok {
		d.log.Warn().Str("provider", provider).Str("host", host).Msg("unknown provider")
		return UnknownProvider{Provider: provider}
	}
	if !d.admit(host, ActionRestartAgent) {
		d.log.Warn().Str("provider", provider).Str("host", host).Int("limit", d.limit).Msg("action rate limited")
		return RateLimited{Host: host, Limit: d.limit}
	}

	start := time.Now()
	res := d.post(ctx, base+"/actions/"+ActionRestartAgent, map[string]string{"host": host})
	metrics.ActionDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())

	ev := d.log.Info()
	if !res.OK() {
		ev = d.log.Error()
	}
	ev.Str("provider", provider).Str("host", host).Str("outcome", string(res.Kind())).Msg("restart_agent")
	return res
}

// admit is the atomic check-then-append on the (host, action) window.
func (d *Dispatcher) admit(host, action string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.window.admit(windowKey(host, action), d.now())
}

func (d *Dispatcher) post(ctx context.Context, url string, payload any) Result {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ProviderUnavailable{Err: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := d.client.Do(req)
	if err != nil {
		return ProviderUnavailable{Err: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return ProviderRejected{Status: resp.StatusCode}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return ProviderUnavailable{Err: fmt.Sprintf("read response: %v", err)}
	}
	if !json.Valid(raw) {
		return ProviderUnavailable{Err: "provider returned a non-JSON body"}
	}
	return Succeeded{Status: resp.StatusCode, Body: json.RawMessage(raw)}
}

func windowKey(host, action string) string { return host + "\x00" + action }

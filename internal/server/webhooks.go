package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"checkline/internal/config"
	"checkline/internal/domain"
	"checkline/internal/engine"
	"checkline/internal/logging"
	"checkline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
	maxWebhookBackoff      = time.Minute
	maxWebhookAttempts     = 8
)

// WebhookDispatcher forwards audit events to the configured endpoints. Each hook keeps its
// own cursor starting at the latest event seen at startup. A failed delivery is retried with
// exponential backoff; after maxWebhookAttempts the event is dropped so later events flow.
type WebhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
	cursors  map[int]int64
	retries  map[int]retryState
}

type retryState struct {
	failures int
	next     time.Time
}

func NewWebhookDispatcher(e engine.Engine, hooks []config.WebhookConfig, logger *zap.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		engine:   e,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logging.OrNop(logger),
		interval: defaultWebhookInterval,
		now:      time.Now,
		cursors:  make(map[int]int64),
		retries:  make(map[int]retryState),
	}
}

// Run polls until ctx is done. It returns immediately when no hook is active.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	active := 0
	for _, hook := range d.webhooks {
		if hook.Active() {
			active++
		}
	}
	if active == 0 {
		return
	}
	d.logger.Info("webhook dispatcher started", zap.Int("hooks", active))
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if !hook.Active() {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	if !d.due(idx) {
		return
	}
	cursor := d.cursorFor(ctx, idx)
	evts, err := d.engine.Repo.ListEvents(ctx, nil, repo.EventFilter{After: cursor, Limit: defaultWebhookBatch})
	if err != nil {
		d.logger.Warn("webhook: fetch events failed", zap.Error(err))
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range evts {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			failures := d.recordFailure(idx)
			if failures >= maxWebhookAttempts {
				d.logger.Error("webhook: dropping event", zap.String("url", hook.URL), zap.Int64("event_id", evt.ID),
					zap.Int("attempts", failures), zap.Error(err))
				d.resetRetry(idx)
				d.setCursor(idx, evt.ID)
				return
			}
			d.logger.Warn("webhook: delivery failed", zap.String("url", hook.URL), zap.Int64("event_id", evt.ID),
				zap.Int("attempts", failures), zap.Error(err))
			return
		}
		d.resetRetry(idx)
		d.setCursor(idx, evt.ID)
	}
}

func (d *WebhookDispatcher) due(idx int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.now().Before(d.retries[idx].next)
}

// recordFailure schedules the next attempt and returns the consecutive failure count.
func (d *WebhookDispatcher) recordFailure(idx int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.retries[idx]
	st.failures++
	st.next = d.now().Add(webhookBackoff(d.interval, st.failures))
	d.retries[idx] = st
	return st.failures
}

func (d *WebhookDispatcher) resetRetry(idx int) {
	d.mu.Lock()
	delete(d.retries, idx)
	d.mu.Unlock()
}

// webhookBackoff doubles the poll interval per consecutive failure, capped at maxWebhookBackoff.
func webhookBackoff(interval time.Duration, failures int) time.Duration {
	delay := interval
	for i := 1; i < failures && delay < maxWebhookBackoff; i++ {
		delay *= 2
	}
	return min(delay, maxWebhookBackoff)
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.engine.Repo.LatestEventID(ctx, "")
	if err != nil {
		d.logger.Warn("webhook: init cursor failed", zap.Error(err))
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	ChecklistID string          `json:"checklist_id"`
	ActorID     string          `json:"actor_id"`
	TS          time.Time       `json:"ts"`
	Payload     json.RawMessage `json:"payload"`
}

// Sign returns the X-Checkline-Signature value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:          evt.ID,
		Type:        evt.Type,
		ChecklistID: evt.ChecklistID,
		ActorID:     evt.ActorID,
		TS:          evt.TS,
		Payload:     payload,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != d.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Checkline-Event", evt.Type)
	req.Header.Set("X-Checkline-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Checkline-Signature", Sign(hook.Secret, data))
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}

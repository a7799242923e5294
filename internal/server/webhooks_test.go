package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkline/internal/config"
	"checkline/internal/domain"
	"checkline/internal/engine"
)

type delivery struct {
	event     webhookEvent
	signature string
}

func TestWebhookDeliversFilteredSignedEvents(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	var (
		mu  sync.Mutex
		got []delivery
	)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		require.NoError(t, json.Unmarshal(body, &evt))
		assert.Equal(t, Sign("s3cret", body), r.Header.Get("X-Checkline-Signature"))
		mu.Lock()
		got = append(got, delivery{event: evt, signature: r.Header.Get("X-Checkline-Signature")})
		mu.Unlock()
	}))
	defer receiver.Close()

	d := NewWebhookDispatcher(srv.Engine, []config.WebhookConfig{{
		URL:    receiver.URL,
		Secret: "s3cret",
		Events: []string{"checklist.created", "checklist.verified"},
	}}, nil)
	// establishes the cursor before any checklist exists
	d.DispatchAll(ctx)

	c, err := srv.Engine.CreateChecklist(ctx, engine.CreateChecklistOptions{ActorID: "U1", ProductID: "P1"})
	require.NoError(t, err)
	_, err = srv.Engine.UpsertResponse(ctx, engine.ResponseInput{ChecklistID: c.ID, CategoryID: "optics", ItemID: "lens-clean", Value: domain.BoolValue(true), ActorID: "U1"})
	require.NoError(t, err)
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "checklist.created", got[0].event.Type)
	assert.Equal(t, c.ID, got[0].event.ChecklistID)
	assert.NotEmpty(t, got[0].signature)
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestWebhookRetriesFailedDeliveryAfterBackoff(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		calls int
	)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer receiver.Close()
	callCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}

	clk := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := NewWebhookDispatcher(srv.Engine, []config.WebhookConfig{{URL: receiver.URL}}, nil)
	d.now = clk.Now
	d.DispatchAll(ctx)
	_, err := srv.Engine.CreateChecklist(ctx, engine.CreateChecklistOptions{ActorID: "U1", ProductID: "P1"})
	require.NoError(t, err)

	d.DispatchAll(ctx)
	require.Equal(t, 1, callCount())

	// still backing off
	d.DispatchAll(ctx)
	require.Equal(t, 1, callCount())

	clk.Advance(defaultWebhookInterval)
	d.DispatchAll(ctx)
	require.Equal(t, 2, callCount())

	d.DispatchAll(ctx)
	assert.Equal(t, 2, callCount())
}

func TestWebhookDropsEventAfterMaxAttempts(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		attempts = map[string]int{}
	)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		evt := r.Header.Get("X-Checkline-Event")
		attempts[evt]++
		if evt == "checklist.created" {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer receiver.Close()

	clk := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := NewWebhookDispatcher(srv.Engine, []config.WebhookConfig{{URL: receiver.URL}}, nil)
	d.now = clk.Now
	d.DispatchAll(ctx)

	c, err := srv.Engine.CreateChecklist(ctx, engine.CreateChecklistOptions{ActorID: "U1", ProductID: "P1"})
	require.NoError(t, err)
	_, err = srv.Engine.UpsertResponse(ctx, engine.ResponseInput{ChecklistID: c.ID, CategoryID: "optics", ItemID: "lens-clean", Value: domain.BoolValue(true), ActorID: "U1"})
	require.NoError(t, err)

	for i := 0; i < maxWebhookAttempts; i++ {
		d.DispatchAll(ctx)
		clk.Advance(maxWebhookBackoff)
	}
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, maxWebhookAttempts, attempts["checklist.created"])
	assert.Equal(t, 1, attempts["response.upserted"])
}

func TestWebhookBackoff(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, maxWebhookBackoff},
		{40, maxWebhookBackoff},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, webhookBackoff(2*time.Second, tc.failures), "failures=%d", tc.failures)
	}
}

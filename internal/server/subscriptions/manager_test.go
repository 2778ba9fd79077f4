package subscriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/systemshift/graphedit/internal/errors"
)

type fakeRepo struct {
	mu   sync.Mutex
	subs map[string]Subscription
	fail bool
}

func newFakeRepo() *fakeRepo { return &fakeRepo{subs: make(map[string]Subscription)} }

func (r *fakeRepo) CreateSubscription(ctx context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return fmt.Errorf("disk full")
	}
	r.subs[sub.ID] = *sub
	return nil
}

func (r *fakeRepo) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = *sub
	return nil
}

func (r *fakeRepo) DeleteSubscription(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	return nil
}

func (r *fakeRepo) LoadSubscriptions(ctx context.Context) ([]*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Subscription
	for _, s := range r.subs {
		s := s
		out = append(out, &s)
	}
	return out, nil
}

func (r *fakeRepo) get(id string) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[id]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterValidates(t *testing.T) {
	m := NewManager(newFakeRepo(), quietLogger())

	tests := []struct {
		name string
		req  CreateSubscriptionRequest
	}{
		{"missing name", CreateSubscriptionRequest{Webhook: "http://hooks.example.org/x"}},
		{"missing webhook", CreateSubscriptionRequest{Name: "n"}},
		{"bad scheme", CreateSubscriptionRequest{Name: "n", Webhook: "ftp://hooks.example.org/x"}},
		{"no host", CreateSubscriptionRequest{Name: "n", Webhook: "http:///x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Register(context.Background(), &tt.req)
			require.Error(t, err)
			assert.Equal(t, errs.KindInvalid, errs.KindOf(err))
		})
	}
}

func TestRegisterPersistFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.fail = true
	m := NewManager(repo, quietLogger())

	_, err := m.Register(context.Background(), &CreateSubscriptionRequest{Name: "n", Webhook: "http://hooks.example.org/x"})
	assert.Equal(t, errs.KindStoreUnavailable, errs.KindOf(err))
	assert.Empty(t, m.List())
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	m := NewManager(repo, quietLogger())

	sub, err := m.Register(ctx, &CreateSubscriptionRequest{
		Name:    "people",
		Webhook: "http://hooks.example.org/people",
		Pattern: SubscriptionPattern{EventTypes: []string{EventGraphEdited}},
	})
	require.NoError(t, err)
	assert.True(t, sub.Enabled)
	assert.Equal(t, "people", repo.get(sub.ID).Name)

	disabled := false
	name := "renamed"
	updated, err := m.Update(ctx, sub.ID, &UpdateSubscriptionRequest{Name: &name, Enabled: &disabled})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.False(t, updated.Enabled)
	assert.False(t, repo.get(sub.ID).Enabled)

	bad := "not a url"
	_, err = m.Update(ctx, sub.ID, &UpdateSubscriptionRequest{Webhook: &bad})
	assert.Equal(t, errs.KindInvalid, errs.KindOf(err))
	got, err := m.Get(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://hooks.example.org/people", got.Webhook, "rejected update leaves the subscription alone")

	require.NoError(t, m.Unregister(ctx, sub.ID))
	_, err = m.Get(sub.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Unregister(ctx, sub.ID), ErrNotFound)
}

func TestStartLoadsStoredSubscriptions(t *testing.T) {
	repo := newFakeRepo()
	repo.subs["s1"] = Subscription{ID: "s1", Name: "stored", Webhook: "http://hooks.example.org/", Enabled: true}

	m := NewManager(repo, quietLogger())
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	got, err := m.Get("s1")
	require.NoError(t, err)
	assert.Equal(t, "stored", got.Name)
}

func TestMatchingEventIsDelivered(t *testing.T) {
	received := make(chan Notification, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, EventGraphEdited, r.Header.Get("X-Graphedit-Event"))
		var n Notification
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&n)) {
			received <- n
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	ctx := context.Background()
	repo := newFakeRepo()
	m := NewManager(repo, quietLogger())
	require.NoError(t, m.Start(ctx))

	sub, err := m.Register(ctx, &CreateSubscriptionRequest{
		Name:    "people",
		Webhook: hook.URL,
		Pattern: SubscriptionPattern{GraphIDs: []string{"http://example.org/people"}},
	})
	require.NoError(t, err)

	m.EmitEvent(Event{Type: EventGraphEdited, GraphID: "http://example.org/places"})
	m.EmitEvent(Event{Type: EventGraphEdited, GraphID: "http://example.org/people", Added: 2})

	select {
	case n := <-received:
		assert.Equal(t, sub.ID, n.SubscriptionID)
		assert.Equal(t, "http://example.org/people", n.Event.GraphID)
		assert.Equal(t, 2, n.Event.Added)
		assert.NotEmpty(t, n.Event.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not called")
	}

	m.Stop()
	assert.Empty(t, received, "non-matching event must not be delivered")

	got, err := m.Get(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FireCount)
	assert.NotNil(t, got.LastFired)
	assert.Equal(t, 1, repo.get(sub.ID).FireCount)
}

func TestEmitAfterStopIsIgnored(t *testing.T) {
	m := NewManager(newFakeRepo(), quietLogger())
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
	assert.NotPanics(t, func() { m.EmitEvent(Event{Type: EventGraphEdited}) })
	assert.NotPanics(t, m.Stop)
}

func TestWebhookRetries(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	n := NewNotifier(quietLogger(), WithRetry(3, time.Millisecond))
	require.NoError(t, n.SendWebhook(context.Background(), hook.URL, Notification{}))
	assert.Equal(t, 3, calls)
}

func TestWebhookGivesUp(t *testing.T) {
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer hook.Close()

	n := NewNotifier(quietLogger(), WithRetry(2, time.Millisecond))
	err := n.SendWebhook(context.Background(), hook.URL, Notification{})
	var we *WebhookError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, http.StatusBadGateway, we.StatusCode)
}

// Package subscriptions delivers graph change events to webhook
// subscribers whose patterns match.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	errs "github.com/systemshift/graphedit/internal/errors"
	"github.com/systemshift/graphedit/internal/server/metrics"
)

// ErrNotFound is returned for unknown subscription IDs.
var ErrNotFound = errors.New("subscription not found")

// EventEmitter is a function that receives events from the store and editor
type EventEmitter func(Event)

// Repository interface for subscription persistence
type Repository interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
	LoadSubscriptions(ctx context.Context) ([]*Subscription, error)
}

// Manager handles subscription lifecycle and event processing
type Manager struct {
	repo          Repository
	subscriptions map[string]*Subscription
	eventChan     chan Event
	notifier      *Notifier
	matcher       *Matcher
	metrics       *metrics.Metrics
	logger        *slog.Logger
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	stopMu  sync.RWMutex
	stopped bool
}

// ManagerOption adjusts a Manager.
type ManagerOption func(*Manager)

// WithNotifier replaces the default webhook notifier.
func WithNotifier(n *Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// WithMetrics records notification outcomes.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// WithQueueSize sets the event buffer size.
func WithQueueSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.eventChan = make(chan Event, n)
		}
	}
}

// NewManager creates a new subscription manager
func NewManager(repo Repository, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "subscriptions")
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		repo:          repo,
		subscriptions: make(map[string]*Subscription),
		eventChan:     make(chan Event, 1000),
		matcher:       NewMatcher(),
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = NewNotifier(logger)
	}
	return m
}

// Start loads stored subscriptions and begins processing events
func (m *Manager) Start(ctx context.Context) error {
	if err := m.loadSubscriptions(ctx); err != nil {
		m.logger.Warn("failed to load subscriptions", "error", err)
	}

	m.wg.Add(1)
	go m.processEvents()

	m.logger.Info("subscription manager started", "subscriptions", m.count())
	return nil
}

// Stop drains queued events, waits for in-flight deliveries and shuts down
func (m *Manager) Stop() {
	m.stopMu.Lock()
	if m.stopped {
		m.stopMu.Unlock()
		return
	}
	m.stopped = true
	close(m.eventChan)
	m.stopMu.Unlock()

	m.wg.Wait()
	m.cancel()
	m.logger.Info("subscription manager stopped")
}

// EmitEvent queues an event. It never blocks: when the queue is full the
// event is dropped.
func (m *Manager) EmitEvent(event Event) {
	m.stopMu.RLock()
	defer m.stopMu.RUnlock()
	if m.stopped {
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case m.eventChan <- event:
	default:
		m.metrics.ObserveNotification("dropped")
		m.logger.Warn("event channel full, dropping event", "event", event.ID, "type", event.Type)
	}
}

// GetEmitter returns a function that can be used to emit events
func (m *Manager) GetEmitter() EventEmitter {
	return m.EmitEvent
}

// Register adds a new subscription
func (m *Manager) Register(ctx context.Context, req *CreateSubscriptionRequest) (*Subscription, error) {
	const op = "subscriptions.Register"
	now := time.Now().UTC()
	sub := &Subscription{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Pattern:     req.Pattern,
		Webhook:     req.Webhook,
		Enabled:     true,
		Created:     now,
		Modified:    now,
	}

	if err := validate(sub); err != nil {
		return nil, errs.E(errs.KindInvalid, op, err)
	}

	if err := m.repo.CreateSubscription(ctx, sub); err != nil {
		return nil, errs.E(errs.KindStoreUnavailable, op, fmt.Errorf("persisting subscription: %w", err))
	}

	m.mu.Lock()
	m.subscriptions[sub.ID] = sub
	m.mu.Unlock()

	m.logger.Info("registered subscription", "id", sub.ID, "name", sub.Name)
	return sub.clone(), nil
}

// Unregister removes a subscription
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subscriptions[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := m.repo.DeleteSubscription(ctx, id); err != nil {
		return errs.E(errs.KindStoreUnavailable, "subscriptions.Unregister", fmt.Errorf("deleting subscription: %w", err))
	}

	delete(m.subscriptions, id)

	m.logger.Info("unregistered subscription", "id", id)
	return nil
}

// Update modifies an existing subscription
func (m *Manager) Update(ctx context.Context, id string, req *UpdateSubscriptionRequest) (*Subscription, error) {
	const op = "subscriptions.Update"
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.subscriptions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	sub := current.clone()
	if req.Name != nil {
		sub.Name = *req.Name
	}
	if req.Description != nil {
		sub.Description = *req.Description
	}
	if req.Pattern != nil {
		sub.Pattern = *req.Pattern
	}
	if req.Webhook != nil {
		sub.Webhook = *req.Webhook
	}
	if req.Enabled != nil {
		sub.Enabled = *req.Enabled
	}
	sub.Modified = time.Now().UTC()

	if err := validate(sub); err != nil {
		return nil, errs.E(errs.KindInvalid, op, err)
	}
	if err := m.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, errs.E(errs.KindStoreUnavailable, op, fmt.Errorf("updating subscription: %w", err))
	}

	m.subscriptions[id] = sub
	return sub.clone(), nil
}

// Get returns a subscription by ID
func (m *Manager) Get(id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, exists := m.subscriptions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sub.clone(), nil
}

// List returns all subscriptions, oldest first
func (m *Manager) List() []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		result = append(result, sub.clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Created.Before(result[j].Created) })
	return result
}

func (m *Manager) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// processEvents is the main event processing loop
func (m *Manager) processEvents() {
	defer m.wg.Done()

	for event := range m.eventChan {
		m.handleEvent(event)
	}
}

// handleEvent matches one event against all enabled subscriptions
func (m *Manager) handleEvent(event Event) {
	m.mu.Lock()
	var fired []*Subscription
	now := time.Now().UTC()
	for _, sub := range m.subscriptions {
		if !sub.Enabled || !m.matcher.Match(event, sub.Pattern) {
			continue
		}
		sub.LastFired = &now
		sub.FireCount++
		fired = append(fired, sub.clone())
	}
	m.mu.Unlock()

	for _, sub := range fired {
		notification := Notification{
			SubscriptionID:   sub.ID,
			SubscriptionName: sub.Name,
			Event:            event,
			MatchedAt:        now,
		}
		m.wg.Add(1)
		go m.deliver(sub, notification)
	}
}

func (m *Manager) deliver(sub *Subscription, notification Notification) {
	defer m.wg.Done()

	if err := m.notifier.SendWebhook(m.ctx, sub.Webhook, notification); err != nil {
		m.metrics.ObserveNotification("failed")
	} else {
		m.metrics.ObserveNotification("delivered")
	}

	// Fire state is best effort; a failed write only loses counters.
	ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
	defer cancel()
	if err := m.repo.UpdateSubscription(ctx, sub); err != nil {
		m.logger.Debug("failed to persist fire state", "id", sub.ID, "error", err)
	}
	m.logger.Info("subscription fired", "id", sub.ID, "event", notification.Event.Type, "graph", notification.Event.GraphID)
}

// loadSubscriptions loads all subscriptions from storage into memory
func (m *Manager) loadSubscriptions(ctx context.Context) error {
	subs, err := m.repo.LoadSubscriptions(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range subs {
		m.subscriptions[sub.ID] = sub
	}

	return nil
}

func validate(sub *Subscription) error {
	if sub.Name == "" {
		return errors.New("subscription name is required")
	}
	if sub.Webhook == "" {
		return errors.New("subscription webhook URL is required")
	}
	u, err := url.Parse(sub.Webhook)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid webhook URL %q", sub.Webhook)
	}
	return nil
}

func (s *Subscription) clone() *Subscription {
	c := *s
	c.Pattern.EventTypes = append([]string(nil), s.Pattern.EventTypes...)
	c.Pattern.GraphIDs = append([]string(nil), s.Pattern.GraphIDs...)
	c.Pattern.Predicates = append([]string(nil), s.Pattern.Predicates...)
	if s.LastFired != nil {
		t := *s.LastFired
		c.LastFired = &t
	}
	return &c
}

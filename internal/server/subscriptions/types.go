package subscriptions

import (
	"time"
)

// Event represents a change to a graph that can trigger subscriptions
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // graph.created, graph.edited
	Timestamp time.Time `json:"timestamp"`
	GraphID   string    `json:"graph_id"`

	// Edit event fields
	Removed    int      `json:"removed,omitempty"`
	Added      int      `json:"added,omitempty"`
	Predicates []string `json:"predicates,omitempty"` // distinct predicates touched
	Revoked    string   `json:"revoked,omitempty"`    // N-Triples
	Asserted   string   `json:"asserted,omitempty"`   // N-Triples
}

// Event type constants
const (
	EventGraphCreated = "graph.created"
	EventGraphEdited  = "graph.edited"
)

// SubscriptionPattern defines what events a subscription matches. Empty
// fields match everything.
type SubscriptionPattern struct {
	EventTypes []string `json:"event_types,omitempty"`
	GraphIDs   []string `json:"graph_ids,omitempty"`  // exact or path.Match globs
	Predicates []string `json:"predicates,omitempty"` // any touched predicate
}

// Subscription represents a standing pattern that fires when events match
type Subscription struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// What to match
	Pattern SubscriptionPattern `json:"pattern"`

	// How to notify
	Webhook string `json:"webhook"` // URL to POST notifications

	// State
	Enabled   bool       `json:"enabled"`
	Created   time.Time  `json:"created"`
	Modified  time.Time  `json:"modified"`
	LastFired *time.Time `json:"last_fired,omitempty"`
	FireCount int        `json:"fire_count"`
}

// Notification is sent when a subscription pattern matches
type Notification struct {
	SubscriptionID   string    `json:"subscription_id"`
	SubscriptionName string    `json:"subscription_name"`
	Event            Event     `json:"event"`
	MatchedAt        time.Time `json:"matched_at"`
}

// CreateSubscriptionRequest is the API request to create a subscription
type CreateSubscriptionRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Pattern     SubscriptionPattern `json:"pattern"`
	Webhook     string              `json:"webhook"`
}

// UpdateSubscriptionRequest is the API request to update a subscription
type UpdateSubscriptionRequest struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Pattern     *SubscriptionPattern `json:"pattern,omitempty"`
	Webhook     *string              `json:"webhook,omitempty"`
	Enabled     *bool                `json:"enabled,omitempty"`
}

// SubscriptionResponse is the API response for subscription operations
type SubscriptionResponse struct {
	Subscription *Subscription `json:"subscription,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// ListSubscriptionsResponse is the API response for listing subscriptions
type ListSubscriptionsResponse struct {
	Subscriptions []*Subscription `json:"subscriptions"`
	Count         int             `json:"count"`
}

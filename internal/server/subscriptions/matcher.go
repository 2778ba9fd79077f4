package subscriptions

import (
	"path"
)

// Matcher evaluates events against subscription patterns
type Matcher struct{}

// NewMatcher creates a new pattern matcher
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Match evaluates if an event matches a subscription pattern
func (m *Matcher) Match(event Event, pattern SubscriptionPattern) bool {
	if len(pattern.EventTypes) > 0 && !contains(pattern.EventTypes, event.Type) {
		return false
	}

	if len(pattern.GraphIDs) > 0 {
		matched := false
		for _, g := range pattern.GraphIDs {
			if matchGraphID(g, event.GraphID) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	// Predicate filters only constrain events that touched statements.
	if len(pattern.Predicates) > 0 && len(event.Predicates) > 0 {
		matched := false
		for _, p := range event.Predicates {
			if contains(pattern.Predicates, p) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

func matchGraphID(pattern, id string) bool {
	if pattern == id {
		return true
	}
	ok, err := path.Match(pattern, id)
	return err == nil && ok
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package testutil

import (
	"context"
	"sync"

	"github.com/Additional-Code/storefront/internal/notification"
)

// Notifications records published events.
type Notifications struct {
	mu     sync.Mutex
	events []notification.Event
}

func (n *Notifications) Publish(_ context.Context, event notification.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// Kinds returns the kinds of every recorded event in publish order.
func (n *Notifications) Kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]string, 0, len(n.events))
	for _, e := range n.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

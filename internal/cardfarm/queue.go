// Package cardfarm drains a queue of games with remaining trading card drops,
// farming one game at a time and polling its remaining count on a fixed
// interval.
package cardfarm

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"idlefarm/internal/steam"
)

// Item is one game with card drops left to farm.
type Item struct {
	AppID           steam.AppID   `json:"app_id"`
	Name            string        `json:"name"`
	Remaining       int           `json:"remaining"`
	AccumulatedTime time.Duration `json:"accumulated_time"`
	// Playtime is the total time the profile reports for the game at
	// discovery.
	Playtime time.Duration `json:"playtime,omitempty"`
}

// DisplayName returns the item name, falling back to the app id.
func (i Item) DisplayName() string {
	if strings.TrimSpace(i.Name) != "" {
		return i.Name
	}
	return i.AppID.String()
}

// Order selects the processing order of a queue.
type Order string

const (
	OrderDiscovery      Order = "discovery"
	OrderMostRemaining  Order = "most_remaining"
	OrderLeastRemaining Order = "least_remaining"
)

// ParseOrder validates a configured order name.
func ParseOrder(raw string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(raw))); o {
	case "":
		return OrderDiscovery, nil
	case OrderDiscovery, OrderMostRemaining, OrderLeastRemaining:
		return o, nil
	default:
		return "", fmt.Errorf("unknown card queue order %q", raw)
	}
}

// Queue is an ordered sequence of items awaiting processing.
type Queue struct {
	items []Item
}

// NewQueue orders items by policy. Items without remaining drops are
// dropped. Ties keep discovery order.
func NewQueue(items []Item, order Order) *Queue {
	q := &Queue{items: make([]Item, 0, len(items))}
	for _, item := range items {
		if item.Remaining > 0 {
			q.items = append(q.items, item)
		}
	}
	switch order {
	case OrderMostRemaining:
		slices.SortStableFunc(q.items, func(a, b Item) int { return b.Remaining - a.Remaining })
	case OrderLeastRemaining:
		slices.SortStableFunc(q.items, func(a, b Item) int { return a.Remaining - b.Remaining })
	}
	return q
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.items)
}

// Pop removes and returns the head of the queue.
func (q *Queue) Pop() (Item, bool) {
	if q == nil || len(q.items) == 0 {
		return Item{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// Items returns a copy of the queued items in order.
func (q *Queue) Items() []Item {
	if q == nil {
		return nil
	}
	return slices.Clone(q.items)
}

// Clear empties the queue.
func (q *Queue) Clear() {
	if q != nil {
		q.items = nil
	}
}

// TotalRemaining sums remaining drops across queued items.
func (q *Queue) TotalRemaining() int {
	total := 0
	if q != nil {
		for _, item := range q.items {
			total += item.Remaining
		}
	}
	return total
}

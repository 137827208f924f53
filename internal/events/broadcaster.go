// Package events routes dataset refresh notifications to the subscribers
// that asked for them.
package events

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/mr1hm/go-covid19-stats/internal/models"
)

// subscriberBuffer holds more than one full warm cycle of events.
const subscriberBuffer = 16

var (
	ErrClosed         = errors.New("broadcaster closed")
	ErrUnknownDataset = errors.New("unknown dataset")
)

type subscription struct {
	dataset string // empty matches every dataset
	ch      chan *models.RefreshEvent
	dropped atomic.Uint64
}

func (s *subscription) wants(dataset string) bool {
	return s.dataset == "" || s.dataset == dataset
}

// Broadcaster fans refresh events out to subscribers. It keeps the latest
// event per dataset so new subscribers start from the current state. Slow
// subscribers miss events rather than block the refresh.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscription
	latest      map[string]*models.RefreshEvent
	closed      bool
	nextID      atomic.Uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]*subscription),
		latest:      make(map[string]*models.RefreshEvent),
	}
}

// Subscribe registers interest in one dataset, or all of them when
// dataset is empty. The latest known event of each matching dataset is
// queued on the returned channel straight away.
func (b *Broadcaster) Subscribe(dataset string) (uint64, <-chan *models.RefreshEvent, error) {
	if dataset != "" && !slices.Contains(models.Datasets, dataset) {
		return 0, nil, fmt.Errorf("%w: %s", ErrUnknownDataset, dataset)
	}

	sub := &subscription{
		dataset: dataset,
		ch:      make(chan *models.RefreshEvent, subscriberBuffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, nil, ErrClosed
	}

	for _, name := range models.Datasets {
		if e, ok := b.latest[name]; ok && sub.wants(name) {
			sub.ch <- e
		}
	}

	id := b.nextID.Add(1)
	b.subscribers[id] = sub
	return id, sub.ch, nil
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Broadcast records e as the latest event for its dataset and hands it to
// every subscriber of that dataset.
func (b *Broadcaster) Broadcast(e *models.RefreshEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.latest[e.Dataset] = e

	for _, sub := range b.subscribers {
		if !sub.wants(e.Dataset) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Latest returns the most recent event for dataset.
func (b *Broadcaster) Latest(dataset string) (*models.RefreshEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.latest[dataset]
	return e, ok
}

// Dropped reports how many events subscriber id missed because its
// buffer was full.
func (b *Broadcaster) Dropped(id uint64) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.subscribers[id]; ok {
		return sub.dropped.Load()
	}
	return 0
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close ends every subscription. Later Subscribe calls fail with ErrClosed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

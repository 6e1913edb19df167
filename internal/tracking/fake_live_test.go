package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fakeLive struct {
	mu         sync.Mutex
	latest     map[uuid.UUID]Sample
	feeds      map[uuid.UUID][]*fakeFeed
	saved      int
	failSub    bool
	failLatest error
	subscribe  int
}

func newFakeLive() *fakeLive {
	return &fakeLive{latest: map[uuid.UUID]Sample{}, feeds: map[uuid.UUID][]*fakeFeed{}}
}

func (f *fakeLive) Latest(_ context.Context, driverID uuid.UUID) (*Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLatest != nil {
		return nil, f.failLatest
	}
	s, ok := f.latest[driverID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeLive) Save(_ context.Context, sample Sample, _ time.Duration) error {
	f.mu.Lock()
	f.latest[sample.DriverID] = sample
	f.saved++
	feeds := append([]*fakeFeed(nil), f.feeds[sample.DriverID]...)
	f.mu.Unlock()
	for _, feed := range feeds {
		feed.push(sample)
	}
	return nil
}

func (f *fakeLive) Subscribe(_ context.Context, driverID uuid.UUID) (Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribe++
	if f.failSub {
		return nil, errors.New("pubsub down")
	}
	feed := &fakeFeed{ch: make(chan Sample, 16)}
	f.feeds[driverID] = append(f.feeds[driverID], feed)
	return feed, nil
}

func (f *fakeLive) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribe
}

type fakeFeed struct {
	mu     sync.Mutex
	ch     chan Sample
	closed bool
}

func (f *fakeFeed) Samples() <-chan Sample { return f.ch }

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}

func (f *fakeFeed) push(s Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- s:
	default:
	}
}

// clock is a settable time source shared with the coordinator goroutine.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

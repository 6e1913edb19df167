package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// LiveStore holds the latest sample per driver and fans out new ones.
type LiveStore interface {
	Latest(ctx context.Context, driverID uuid.UUID) (*Sample, error)
	Save(ctx context.Context, sample Sample, ttl time.Duration) error
	Subscribe(ctx context.Context, driverID uuid.UUID) (Feed, error)
}

// Feed delivers samples for one driver until closed.
type Feed interface {
	Samples() <-chan Sample
	Close() error
}

type locationBackend interface {
	StoreDriverLocation(ctx context.Context, driverID string, payload []byte, ttl time.Duration) error
	DriverLocation(ctx context.Context, driverID string) ([]byte, bool, error)
	Subscribe(ctx context.Context, channels ...string) (*goredis.PubSub, error)
	DriverLocationChannel(driverID string) string
}

// RedisLiveStore keeps samples as JSON under a per-driver key with a TTL and
// publishes each write on the driver's channel.
type RedisLiveStore struct {
	backend locationBackend
}

var _ LiveStore = (*RedisLiveStore)(nil)

func NewRedisLiveStore(backend locationBackend) *RedisLiveStore {
	return &RedisLiveStore{backend: backend}
}

// Latest returns nil, nil when the driver has no unexpired sample.
func (s *RedisLiveStore) Latest(ctx context.Context, driverID uuid.UUID) (*Sample, error) {
	raw, ok, err := s.backend.DriverLocation(ctx, driverID.String())
	if err != nil || !ok {
		return nil, err
	}
	var sample Sample
	if err := json.Unmarshal(raw, &sample); err != nil {
		return nil, fmt.Errorf("decode driver location: %w", err)
	}
	return &sample, nil
}

func (s *RedisLiveStore) Save(ctx context.Context, sample Sample, ttl time.Duration) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode driver location: %w", err)
	}
	return s.backend.StoreDriverLocation(ctx, sample.DriverID.String(), payload, ttl)
}

func (s *RedisLiveStore) Subscribe(ctx context.Context, driverID uuid.UUID) (Feed, error) {
	sub, err := s.backend.Subscribe(ctx, s.backend.DriverLocationChannel(driverID.String()))
	if err != nil {
		return nil, err
	}
	feed := &redisFeed{sub: sub, out: make(chan Sample, 8), done: make(chan struct{})}
	go feed.pump(sub.Channel())
	return feed, nil
}

type redisFeed struct {
	sub  *goredis.PubSub
	out  chan Sample
	done chan struct{}
	once sync.Once
}

func (f *redisFeed) Samples() <-chan Sample { return f.out }

func (f *redisFeed) Close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		err = f.sub.Close()
	})
	return err
}

func (f *redisFeed) pump(messages <-chan *goredis.Message) {
	defer close(f.out)
	for {
		select {
		case <-f.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var sample Sample
			if err := json.Unmarshal([]byte(msg.Payload), &sample); err != nil {
				continue
			}
			select {
			case f.out <- sample:
			case <-f.done:
				return
			}
		}
	}
}

package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/freightlane-backend/pkg/config"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

// Client publishes domain events. Subscribers live outside this service.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("at least one pubsub topic is required")
)

// NewClient creates a Pub/Sub v2 client and verifies the configured topics exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:     psClient,
		projectID:  gcp.ProjectID,
		cfg:        cfg,
		publishers: make(map[string]*pubsub.Publisher),
	}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(ctx, "pubsub client initialized")
	}
	return c, nil
}

func topicNames(cfg config.PubSubConfig) []string {
	names := []string{}
	for _, name := range []string{cfg.DomainTopic, cfg.TripsTopic} {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

// Ping verifies every configured topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	names := topicNames(c.cfg)
	if len(names) == 0 {
		return errNoTopics
	}
	for _, name := range names {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topicResourceName(c.projectID, name)})
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("topic %q does not exist", name)
			}
			return fmt.Errorf("checking topic %q: %w", name, err)
		}
	}
	return nil
}

// Publisher returns a cached publisher for the topic ID or resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := topicResourceName(c.projectID, name)
	if fullName == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.publishers[fullName]; ok {
		return pub
	}
	pub := c.client.Publisher(fullName)
	c.publishers[fullName] = pub
	return pub
}

// Close flushes publishers and releases client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for _, pub := range c.publishers {
		pub.Stop()
	}
	c.publishers = map[string]*pubsub.Publisher{}
	c.mu.Unlock()
	return c.client.Close()
}

func topicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/topics/%s", p, n)
}

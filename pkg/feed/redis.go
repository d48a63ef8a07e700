package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/bellhop/pkg/log"
	"github.com/cuemby/bellhop/pkg/metrics"
	"github.com/cuemby/bellhop/pkg/storage"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ChannelName returns the pub/sub channel carrying one board's changes
func ChannelName(board types.BoardKey) string {
	return fmt.Sprintf("bellhop:records:%s:%s", board.TenantID, board.Kind)
}

// Publisher is implemented by feeds that can also announce changes
type Publisher interface {
	Publish(ctx context.Context, board types.BoardKey, change types.ChangeEvent) error
}

// Redis is a change feed over Redis pub/sub. Producers publish a
// types.ChangeDoc as JSON on ChannelName(board).
type Redis struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedis connects using a redis:// URL
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisFromClient(redis.NewClient(opts)), nil
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client, logger: log.WithComponent("redis-feed")}
}

// Close closes the underlying client
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Subscribe starts delivering the board's changes to onChange. It returns once
// Redis has confirmed the subscription.
func (r *Redis) Subscribe(ctx context.Context, board types.BoardKey, onChange func(types.ChangeEvent)) (storage.Subscription, error) {
	pubsub := r.client.Subscribe(ctx, ChannelName(board))

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("%w: failed to subscribe: %v", types.ErrStoreUnavailable, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		quit:   make(chan struct{}),
		logger: r.logger.With().Str("board", board.String()).Logger(),
	}
	sub.wg.Add(1)
	go sub.listen(ctx, board, onChange)

	sub.logger.Info().Str("channel", ChannelName(board)).Msg("Subscribed to change feed")
	return sub, nil
}

// Publish announces a change to every subscriber of the board
func (r *Redis) Publish(ctx context.Context, board types.BoardKey, change types.ChangeEvent) error {
	doc := types.ChangeDoc{Op: string(change.Kind), Record: types.DocFromRecord(change.Record)}
	data, err := json.Marshal(&doc)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, ChannelName(board), data).Err()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	wg     sync.WaitGroup
	quit   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func (s *redisSubscription) listen(ctx context.Context, board types.BoardKey, onChange func(types.ChangeEvent)) {
	defer s.wg.Done()

	ch := s.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				s.logger.Warn().Msg("Redis pubsub channel closed")
				return
			}
			s.handleMessage(msg, board, onChange)
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *redisSubscription) handleMessage(msg *redis.Message, board types.BoardKey, onChange func(types.ChangeEvent)) {
	var doc types.ChangeDoc
	if err := json.Unmarshal([]byte(msg.Payload), &doc); err != nil {
		s.logger.Warn().Err(err).Msg("Dropping malformed change event")
		metrics.PushEventsDropped.Inc()
		return
	}
	change, err := doc.ToChangeEvent(board.Kind)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping change event that cannot be normalized")
		metrics.PushEventsDropped.Inc()
		return
	}
	if change.Record.TenantID == "" {
		change.Record.TenantID = board.TenantID
	}
	if change.Record.TenantID != board.TenantID {
		s.logger.Warn().Str("tenant_id", change.Record.TenantID).Msg("Dropping change event for another tenant")
		metrics.PushEventsDropped.Inc()
		return
	}
	onChange(change)
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.quit)
		err = s.pubsub.Close()
		s.wg.Wait()
	})
	return err
}

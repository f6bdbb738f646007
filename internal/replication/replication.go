// Package replication fans model updates out to every replica over a redis
// pub/sub channel. Nothing is persisted: a replica that starts later begins
// from the stock parameters.
package replication

import (
	"context"
	"encoding/json"

	"ml-server/internal/models"

	"github.com/manifold-inc/manifold-sdk/lib/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client is the subset of *redis.Client used here
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Applier applies an update without publishing it again
type Applier interface {
	ApplyReplicated(tag string, params json.RawMessage) (*models.ModelUpdateAck, error)
}

type update struct {
	Origin    string           `json:"origin"`
	ModelType models.ModelKind `json:"model_type"`
	Params    json.RawMessage  `json:"params"`
}

type Syncer struct {
	client  Client
	channel string
	origin  string
	log     *zap.SugaredLogger
}

func New(client Client, channel, origin string, log *zap.SugaredLogger) *Syncer {
	return &Syncer{
		client:  client,
		channel: channel,
		origin:  origin,
		log:     log.With("channel", channel, "origin", origin),
	}
}

func (s *Syncer) Publish(ctx context.Context, kind models.ModelKind, params json.RawMessage) error {
	data, err := json.Marshal(update{Origin: s.origin, ModelType: kind, Params: params})
	if err != nil {
		return utils.Wrap("failed marshalling model update", err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return utils.Wrap("failed publishing model update", err)
	}
	return nil
}

// Run applies remote updates until ctx is done
func (s *Syncer) Run(ctx context.Context, a Applier) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer func() {
		_ = sub.Close()
	}()

	if _, err := sub.Receive(ctx); err != nil {
		return utils.Wrap("failed subscribing to model updates", err)
	}
	s.log.Info("Subscribed to model updates")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(a, msg.Payload)
		}
	}
}

func (s *Syncer) handle(a Applier, payload string) {
	var u update
	if err := json.Unmarshal([]byte(payload), &u); err != nil {
		s.log.Warnw("Failed decoding replicated update", "error", err)
		return
	}
	if u.Origin == s.origin {
		return
	}
	ack, err := a.ApplyReplicated(string(u.ModelType), u.Params)
	if err != nil {
		s.log.Warnw("Rejected replicated update", "model_type", u.ModelType, "from", u.Origin, "error", err)
		return
	}
	s.log.Infow("Applied replicated update", "model_type", ack.ModelType, "version", ack.Version, "from", u.Origin)
}

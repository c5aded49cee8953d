package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/hyeonsu-kim/citypulse/internal/cache"
	"github.com/hyeonsu-kim/citypulse/internal/cache/keys"
	"github.com/hyeonsu-kim/citypulse/internal/invalidation"
	"github.com/hyeonsu-kim/citypulse/internal/refdata"
)

// Consumer evicts snapshot keys named by invalidation events. Malformed or
// unknown events are skipped, not retried: replaying them would fail the same
// way and stall the partition.
type Consumer struct {
	cfg        Config
	logger     *slog.Logger
	cache      cache.Interface
	registries map[string]*refdata.Registry
}

func New(cfg Config, logger *slog.Logger, c cache.Interface, registries map[string]*refdata.Registry) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger, cache: c, registries: registries}
}

// Start consumes eviction events until ctx ends.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil || len(c.registries) == 0 {
		return errors.New("kafkaconsumer: missing dependencies (cache/registries)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne handles a single eviction event message.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.logger.Warn("skipping undecodable event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.logger.Warn("skipping invalid event", "op", ev.Op, "domain", ev.Domain, "err", err)
		return nil
	}

	reg, ok := c.registries[ev.Domain]
	if !ok {
		c.logger.Warn("skipping event for untracked domain", "domain", ev.Domain)
		return nil
	}

	var delKeys []string
	switch ev.Op {
	case invalidation.OpEvict:
		if !reg.IsValid(ev.EntityID) {
			c.logger.Warn("skipping event for unknown entity", "domain", ev.Domain, "entity", ev.EntityID)
			return nil
		}
		delKeys = []string{keys.Snapshot(ev.Domain, ev.EntityID)}
	case invalidation.OpEvictDomain:
		ids := reg.IDs()
		delKeys = make([]string, 0, len(ids))
		for _, id := range ids {
			delKeys = append(delKeys, keys.Snapshot(ev.Domain, id))
		}
	}

	c.cache.Del(ctx, delKeys...)
	c.logger.Info("evicted snapshot keys",
		"op", ev.Op, "domain", ev.Domain, "keys", len(delKeys))
	return nil
}

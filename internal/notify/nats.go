package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	streamName    = "BACKUP_SCHEDULES"
	reloadSubject = "backup.schedules.reload"
	consumerName  = "dispatcher"
)

// NATSBroker implements Publisher and Subscriber on a durable JetStream
// stream. The dispatcher is the sole consumer group; the connection retries
// transparently on broker loss.
type NATSBroker struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger zerolog.Logger
}

func NewNATSBroker(url string, logger zerolog.Logger) (*NATSBroker, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &NATSBroker{
		conn:   conn,
		js:     js,
		logger: logger.With().Str("component", "notify").Logger(),
	}, nil
}

// EnsureStream creates the reload stream if it does not exist yet. Idempotent.
func (b *NATSBroker) EnsureStream(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{reloadSubject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
		// Reload messages are signals, not data; a shallow stream is plenty.
		MaxMsgs: 1024,
	}

	if _, err := b.js.Stream(ctx, streamName); err == nil {
		return nil
	} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("check stream %s: %w", streamName, err)
	}

	if _, err := b.js.CreateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", streamName, err)
	}
	return nil
}

func (b *NATSBroker) PublishReload(ctx context.Context) error {
	if _, err := b.js.Publish(ctx, reloadSubject, nil); err != nil {
		return fmt.Errorf("publish reload notification: %w", err)
	}
	return nil
}

// Listen consumes reload notifications until ctx is cancelled. The consumer
// is durable, so notifications published while the dispatcher is down are
// delivered on startup. Consume loss (broker restart, terminal consumer
// errors) is handled by re-creating the consumer with backoff.
func (b *NATSBroker) Listen(ctx context.Context, handler func(ctx context.Context)) error {
	for {
		if err := b.consumeOnce(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Error().Err(err).Msg("reload consumer lost, retrying")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func (b *NATSBroker) consumeOnce(ctx context.Context, handler func(ctx context.Context)) error {
	stream, err := b.js.Stream(ctx, streamName)
	if err != nil {
		return fmt.Errorf("lookup stream %s: %w", streamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: reloadSubject,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		handler(ctx)
		if err := msg.Ack(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to ack reload notification")
		}
	})
	if err != nil {
		return fmt.Errorf("start consume: %w", err)
	}
	defer cc.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-cc.Closed():
		return fmt.Errorf("consume context closed")
	}
}

func (b *NATSBroker) Close() {
	b.conn.Close()
}

package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cristianortiz/liveAuction/internal/payment/domain"
	"github.com/cristianortiz/liveAuction/internal/shared/logger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

const (
	StreamName    = "ORDER_UPDATES"
	subjectPrefix = "orders.payment."

	// dedupWindow is how long JetStream remembers a Nats-Msg-Id.
	dedupWindow = 24 * time.Hour
)

// publisher is the slice of jetstream.JetStream the notifier needs.
type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSNotifier delivers order updates to a JetStream work queue. The idempotency key is the
// message id, so JetStream drops re-sent updates inside the dedup window.
type NATSNotifier struct {
	js publisher
}

var _ domain.OrderUpdater = (*NATSNotifier)(nil)

// NewNATSNotifier ensures the ORDER_UPDATES stream exists.
func NewNATSNotifier(ctx context.Context, conn *nats.Conn) (*NATSNotifier, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Payment outcomes for the order subsystem",
		Subjects:    []string{subjectPrefix + "*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      72 * time.Hour,
		Duplicates:  dedupWindow,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}
	log.Info("JetStream order stream ready", zap.String("stream", StreamName))
	return &NATSNotifier{js: js}, nil
}

// Subject is where updates with the given status are published.
func Subject(status domain.Status) string {
	return subjectPrefix + string(status)
}

func (n *NATSNotifier) UpdateOrder(ctx context.Context, update domain.OrderUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal order update: %w", err)
	}
	ack, err := n.js.Publish(ctx, Subject(update.Status), data, jetstream.WithMsgID(update.IdempotencyKey))
	if err != nil {
		return fmt.Errorf("publish order update %s: %w", update.IdempotencyKey, err)
	}
	if ack.Duplicate {
		log.Info("Order update already queued",
			zap.String("orderID", update.OrderID),
			zap.String("idempotencyKey", update.IdempotencyKey),
		)
	}
	return nil
}

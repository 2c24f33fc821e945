package notifier

import (
	"context"
	"sync"

	"github.com/cristianortiz/liveAuction/internal/payment/domain"
	"go.uber.org/zap"
)

// LogNotifier records order updates in the service log, for deployments without a broker.
// Keys already seen are logged once.
type LogNotifier struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

var _ domain.OrderUpdater = (*LogNotifier)(nil)

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{seen: make(map[string]struct{})}
}

func (n *LogNotifier) UpdateOrder(_ context.Context, update domain.OrderUpdate) error {
	n.mu.Lock()
	_, dup := n.seen[update.IdempotencyKey]
	n.seen[update.IdempotencyKey] = struct{}{}
	n.mu.Unlock()

	if dup {
		return nil
	}
	log.Info("Order update",
		zap.String("orderID", update.OrderID),
		zap.String("status", string(update.Status)),
		zap.String("amount", update.Amount.String()),
		zap.String("idempotencyKey", update.IdempotencyKey),
	)
	return nil
}

// Delivered reports how many distinct updates were recorded.
func (n *LogNotifier) Delivered() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.seen)
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/google/uuid"
)

type ruleKey struct {
	auctionID uuid.UUID
	userID    string
}

// AutoBidRepository keeps one rule per (auction, user) in memory.
type AutoBidRepository struct {
	mu    sync.RWMutex
	rules map[ruleKey]domain.AutoBidRule
}

var _ domain.AutoBidRepository = (*AutoBidRepository)(nil)

func NewAutoBidRepository() *AutoBidRepository {
	return &AutoBidRepository{rules: make(map[ruleKey]domain.AutoBidRule)}
}

func (r *AutoBidRepository) Upsert(_ context.Context, rule *domain.AutoBidRule) (*domain.AutoBidRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ruleKey{rule.AuctionID, rule.UserID}
	stored := *rule
	if existing, ok := r.rules[key]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	r.rules[key] = stored
	out := stored
	return &out, nil
}

func (r *AutoBidRepository) Get(_ context.Context, auctionID uuid.UUID, userID string) (*domain.AutoBidRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[ruleKey{auctionID, userID}]
	if !ok {
		return nil, fmt.Errorf("get rule %s/%s: %w", auctionID, userID, domain.ErrAutoBidNotFound)
	}
	return &rule, nil
}

func (r *AutoBidRepository) Deactivate(_ context.Context, auctionID uuid.UUID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ruleKey{auctionID, userID}
	rule, ok := r.rules[key]
	if !ok {
		return fmt.Errorf("deactivate rule %s/%s: %w", auctionID, userID, domain.ErrAutoBidNotFound)
	}
	rule.Active = false
	r.rules[key] = rule
	return nil
}

func (r *AutoBidRepository) DeactivateAll(_ context.Context, auctionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, rule := range r.rules {
		if key.auctionID == auctionID && rule.Active {
			rule.Active = false
			r.rules[key] = rule
		}
	}
	return nil
}

// ListActive returns active rules ordered by registration time, then user id.
func (r *AutoBidRepository) ListActive(_ context.Context, auctionID uuid.UUID) ([]*domain.AutoBidRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.AutoBidRule
	for key, rule := range r.rules {
		if key.auctionID == auctionID && rule.Active {
			rule := rule
			out = append(out, &rule)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

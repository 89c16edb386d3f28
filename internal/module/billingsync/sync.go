package billingsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/framecraft/server/internal/module/entitlement"
)

// Store is the subscription persistence used by billing sync.
type Store interface {
	GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*entitlement.Subscription, error)
	GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*entitlement.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *entitlement.Subscription) error
}

// Invalidator drops cached entitlement state for a user after a billing
// change, so the new tier is visible on the next check.
type Invalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID)
}

// Syncer applies Stripe subscription events to the local subscription
// records.
type Syncer struct {
	store  Store
	cache  Invalidator
	logger *zap.Logger
}

// NewSyncer creates a new billing syncer.
func NewSyncer(store Store, cache Invalidator, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{store: store, cache: cache, logger: logger}
}

// ApplyEvent processes one Stripe event. Unhandled event types are
// ignored without error so Stripe does not retry them.
func (s *Syncer) ApplyEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return s.applySubscriptionChange(ctx, event)
	case "customer.subscription.deleted":
		return s.applySubscriptionDeleted(ctx, event)
	default:
		s.logger.Debug("unhandled billing event type", zap.String("type", string(event.Type)))
		return nil
	}
}

func (s *Syncer) applySubscriptionChange(ctx context.Context, event *stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	sub, err := s.lookup(ctx, &stripeSub)
	if err != nil {
		return err
	}

	tier, ok := tierFromSubscription(&stripeSub)
	if !ok {
		return fmt.Errorf("no tier mapping for stripe subscription %s", stripeSub.ID)
	}

	sub.Tier = tier
	sub.Status = statusFromStripe(stripeSub.Status)
	sub.StripeSubscriptionID = stripeSub.ID
	if stripeSub.Customer != nil {
		sub.StripeCustomerID = stripeSub.Customer.ID
	}
	sub.CurrentPeriodStart = time.Unix(stripeSub.CurrentPeriodStart, 0).UTC()
	sub.CurrentPeriodEnd = time.Unix(stripeSub.CurrentPeriodEnd, 0).UTC()
	sub.CancelAtPeriodEnd = stripeSub.CancelAtPeriodEnd
	if stripeSub.CanceledAt > 0 {
		canceledAt := time.Unix(stripeSub.CanceledAt, 0).UTC()
		sub.CanceledAt = &canceledAt
	} else {
		sub.CanceledAt = nil
	}

	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	s.logger.Info("applied subscription change",
		zap.String("user_id", sub.UserID.String()),
		zap.String("tier", string(sub.Tier)),
		zap.String("status", string(sub.Status)),
	)
	s.cache.Invalidate(ctx, sub.UserID)
	return nil
}

// applySubscriptionDeleted reverts the user to the Free tier on a
// terminal cancellation.
func (s *Syncer) applySubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	sub, err := s.lookup(ctx, &stripeSub)
	if err != nil {
		if errors.Is(err, entitlement.ErrSubscriptionNotFound) {
			// Nothing to revert.
			return nil
		}
		return err
	}

	now := time.Now().UTC()
	sub.Tier = entitlement.TierFree
	sub.Status = entitlement.StatusCanceled
	sub.StripeSubscriptionID = ""
	sub.CurrentPeriodStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	sub.CurrentPeriodEnd = time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond)
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = &now

	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	s.logger.Info("reverted canceled subscription to free",
		zap.String("user_id", sub.UserID.String()),
	)
	s.cache.Invalidate(ctx, sub.UserID)
	return nil
}

// lookup resolves the local record, by Stripe subscription ID first and
// customer ID second (creation events arrive before the subscription ID
// is stored locally).
func (s *Syncer) lookup(ctx context.Context, stripeSub *stripe.Subscription) (*entitlement.Subscription, error) {
	sub, err := s.store.GetSubscriptionByStripeID(ctx, stripeSub.ID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, entitlement.ErrSubscriptionNotFound) {
		return nil, err
	}
	if stripeSub.Customer == nil {
		return nil, entitlement.ErrSubscriptionNotFound
	}
	return s.store.GetSubscriptionByCustomerID(ctx, stripeSub.Customer.ID)
}

// tierFromSubscription maps the price lookup key to a tier. Prices in
// Stripe carry lookup keys matching the tier identifiers.
func tierFromSubscription(stripeSub *stripe.Subscription) (entitlement.SubscriptionTier, bool) {
	if stripeSub.Items == nil || len(stripeSub.Items.Data) == 0 {
		return "", false
	}
	price := stripeSub.Items.Data[0].Price
	if price == nil {
		return "", false
	}
	switch entitlement.SubscriptionTier(price.LookupKey) {
	case entitlement.TierProMonthly:
		return entitlement.TierProMonthly, true
	case entitlement.TierProYearly:
		return entitlement.TierProYearly, true
	case entitlement.TierStudio:
		return entitlement.TierStudio, true
	default:
		return "", false
	}
}

func statusFromStripe(status stripe.SubscriptionStatus) entitlement.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return entitlement.StatusActive
	case stripe.SubscriptionStatusTrialing:
		return entitlement.StatusTrialing
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return entitlement.StatusPastDue
	case stripe.SubscriptionStatusCanceled:
		return entitlement.StatusCanceled
	default:
		return entitlement.StatusIncomplete
	}
}

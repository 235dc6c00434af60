// Package referral hands out one referral code per user and records the
// orders those codes were redeemed on. Each order credits its sponsor once,
// however often the order subsystem delivers the redemption.
package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/medreza/honcho-rewards/pkg/apperr"
	"github.com/medreza/honcho-rewards/pkg/codegen"
	"github.com/medreza/honcho-rewards/pkg/events"
	"github.com/medreza/honcho-rewards/pkg/loyalty"
	"github.com/medreza/honcho-rewards/pkg/metrics"
	"github.com/medreza/honcho-rewards/pkg/models"
	"github.com/medreza/honcho-rewards/pkg/repository"
)

// DefaultReward is credited to the sponsor for each referred order.
var DefaultReward = decimal.RequireFromString("5.00")

const (
	codeAttempts  = 3
	maxCodeLen    = 64
	maxOrderIDLen = 128
)

type Service struct {
	store   repository.Store
	loyalty *loyalty.Service
	log     *logrus.Logger
	pub     events.Publisher
	now     func() time.Time
	reward  decimal.Decimal
	codeTTL time.Duration
	codes   codegen.Generator
}

type Option func(*Service)

func WithPublisher(pub events.Publisher) Option {
	return func(s *Service) { s.pub = pub }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithReward sets the reward value stored on newly created codes.
func WithReward(v decimal.Decimal) Option {
	return func(s *Service) { s.reward = v }
}

// WithCodeTTL makes new codes expire ttl after creation. Zero never expires.
func WithCodeTTL(ttl time.Duration) Option {
	return func(s *Service) { s.codeTTL = ttl }
}

func WithCodeGenerator(g codegen.Generator) Option {
	return func(s *Service) { s.codes = g }
}

func NewService(store repository.Store, loyaltySvc *loyalty.Service, log *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		loyalty: loyaltySvc,
		log:     log,
		pub:     events.Nop,
		now:     func() time.Time { return time.Now().UTC() },
		reward:  DefaultReward,
		codes:   codegen.Referral,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CodeFor returns the user's referral code, creating it on first use.
func (s *Service) CodeFor(ctx context.Context, userID string) (models.ReferralCode, error) {
	if userID == "" {
		return models.ReferralCode{}, apperr.Validation("user id is required")
	}

	var rc models.ReferralCode
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		existing, ok, err := tx.GetReferralCodeByUser(ctx, userID)
		if err != nil {
			return err
		}
		if ok {
			rc = existing
			return nil
		}

		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		rc, err = s.createCode(ctx, tx, user)
		return err
	})
	if err != nil {
		return models.ReferralCode{}, err
	}
	return rc, nil
}

func (s *Service) createCode(ctx context.Context, tx repository.Tx, user models.User) (models.ReferralCode, error) {
	now := s.now()
	rc := models.ReferralCode{
		UserID:      user.ID,
		RewardValue: s.reward,
		IsActive:    true,
		CreatedAt:   now,
	}
	if s.codeTTL > 0 {
		expires := now.Add(s.codeTTL)
		rc.ExpiresAt = &expires
	}

	var err error
	for attempt := 1; attempt <= codeAttempts; attempt++ {
		rc.Code, err = s.codes(user.DisplayName, now)
		if err != nil {
			return models.ReferralCode{}, fmt.Errorf("generate referral code: %w", err)
		}

		var inserted bool
		inserted, err = tx.InsertReferralCode(ctx, rc)
		if errors.Is(err, repository.ErrDuplicateCode) {
			s.log.WithFields(logrus.Fields{
				"user_id": user.ID,
				"attempt": attempt,
			}).Warn("referral code collision")
			continue
		}
		if err != nil {
			return models.ReferralCode{}, err
		}
		if inserted {
			return rc, nil
		}

		// a concurrent request created the user's code first
		existing, ok, err := tx.GetReferralCodeByUser(ctx, user.ID)
		if err != nil {
			return models.ReferralCode{}, err
		}
		if !ok {
			return models.ReferralCode{}, fmt.Errorf("%w: referral code of %q vanished", apperr.ErrConflict, user.ID)
		}
		return existing, nil
	}
	return models.ReferralCode{}, fmt.Errorf("referral code for %q: %w", user.ID, err)
}

// Redeem records that code was used on orderID by referredUserID and credits
// the sponsor. Redeeming an order a second time returns the stored use with
// Duplicate set and credits nothing.
func (s *Service) Redeem(ctx context.Context, code, referredUserID, orderID string) (models.RedeemResult, error) {
	switch {
	case code == "":
		return models.RedeemResult{}, apperr.Validation("code is required")
	case len(code) > maxCodeLen:
		return models.RedeemResult{}, apperr.Validation("code longer than %d characters", maxCodeLen)
	case referredUserID == "":
		return models.RedeemResult{}, apperr.Validation("referred user id is required")
	case orderID == "":
		return models.RedeemResult{}, apperr.Validation("order id is required")
	case len(orderID) > maxOrderIDLen:
		return models.RedeemResult{}, apperr.Validation("order id longer than %d characters", maxOrderIDLen)
	}

	var res models.RedeemResult
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		res, err = s.redeemTx(ctx, tx, code, referredUserID, orderID)
		return err
	})
	if err != nil {
		return models.RedeemResult{}, err
	}

	if res.SponsorCredit != nil {
		s.loyalty.AfterCommit(ctx, *res.SponsorCredit)
	}
	metrics.RecordRedemption(res.Duplicate)
	if !res.Duplicate {
		events.Emit(ctx, s.pub, s.log, events.New(events.ReferralRedeemed, referredUserID, res.Use.CreatedAt, res))
	}
	return res, nil
}

func duplicateOf(stored models.ReferralUse) models.RedeemResult {
	return models.RedeemResult{
		Use:              stored,
		SponsorCredited:  stored.SponsorCredited,
		ReferredCredited: stored.ReferredCredited,
		Duplicate:        true,
	}
}

func (s *Service) redeemTx(ctx context.Context, tx repository.Tx, code, referredUserID, orderID string) (models.RedeemResult, error) {
	// A redelivered order gets its stored use back even after the code was
	// disabled or expired.
	stored, err := tx.GetReferralUseByOrder(ctx, orderID)
	switch {
	case err == nil:
		return duplicateOf(stored), nil
	case !errors.Is(err, apperr.ErrNotFound):
		return models.RedeemResult{}, err
	}

	rc, err := tx.GetReferralCode(ctx, code)
	if err != nil {
		return models.RedeemResult{}, err
	}
	now := s.now()
	switch {
	case !rc.IsActive:
		return models.RedeemResult{}, apperr.Inactive("referral code", code)
	case rc.ExpiresAt != nil && !now.Before(*rc.ExpiresAt):
		return models.RedeemResult{}, apperr.Expired("referral code", code)
	case rc.UserID == referredUserID:
		return models.RedeemResult{}, apperr.Validation("referral code %q belongs to the referred user", code)
	}
	if _, err := tx.GetUser(ctx, referredUserID); err != nil {
		return models.RedeemResult{}, err
	}

	use := models.ReferralUse{
		ID:             uuid.NewString(),
		ReferralCode:   code,
		ReferredUserID: referredUserID,
		OrderID:        orderID,
		CreatedAt:      now,
	}
	inserted, err := tx.InsertReferralUse(ctx, use)
	if err != nil {
		return models.RedeemResult{}, err
	}
	if !inserted {
		stored, err := tx.GetReferralUseByOrder(ctx, orderID)
		if err != nil {
			return models.RedeemResult{}, err
		}
		return duplicateOf(stored), nil
	}

	res := models.RedeemResult{Use: use}

	// Only the caller that flips sponsor_credited may credit the sponsor. The
	// credit carries no idempotency key; the flip alone keeps it exactly once.
	flipped, err := tx.MarkSponsorCredited(ctx, use.ID)
	if err != nil {
		return models.RedeemResult{}, err
	}
	if flipped {
		credit, err := s.loyalty.CreditTx(ctx, tx, loyalty.CreditRequest{
			UserID:      rc.UserID,
			EventType:   models.EventReferral,
			BaseAmount:  rc.RewardValue,
			Description: fmt.Sprintf("referral of order %s", orderID),
		})
		if err != nil {
			return models.RedeemResult{}, err
		}
		res.SponsorCredit = &credit
	}
	res.Use.SponsorCredited = true

	if _, err := tx.MarkReferredCredited(ctx, use.ID); err != nil {
		return models.RedeemResult{}, err
	}
	res.Use.ReferredCredited = true

	if err := tx.IncrementReferralUsage(ctx, code); err != nil {
		return models.RedeemResult{}, err
	}

	res.SponsorCredited = res.Use.SponsorCredited
	res.ReferredCredited = res.Use.ReferredCredited
	return res, nil
}

// Stats returns the user's referral code and its uses.
func (s *Service) Stats(ctx context.Context, userID string) (models.ReferralStats, error) {
	if userID == "" {
		return models.ReferralStats{}, apperr.Validation("user id is required")
	}
	rc, err := s.store.GetReferralCodeByUser(ctx, userID)
	if err != nil {
		return models.ReferralStats{}, err
	}
	uses, err := s.store.ListReferralUses(ctx, rc.Code)
	if err != nil {
		return models.ReferralStats{}, err
	}
	return models.ReferralStats{Code: rc, Uses: uses}, nil
}

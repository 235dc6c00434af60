// Package loyalty maintains per-user loyalty balances. Every credit appends
// an immutable ledger entry and moves the denormalized balance in the same
// unit of work, applying the multiplier of the tier held before the credit.
package loyalty

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/medreza/honcho-rewards/pkg/apperr"
	"github.com/medreza/honcho-rewards/pkg/events"
	"github.com/medreza/honcho-rewards/pkg/metrics"
	"github.com/medreza/honcho-rewards/pkg/models"
	"github.com/medreza/honcho-rewards/pkg/repository"
)

const maxDescriptionLen = 255

type CreditRequest struct {
	UserID      string
	EventType   models.LoyaltyEventType
	BaseAmount  decimal.Decimal
	Description string
	// IdempotencyKey, when set, makes a retried credit return the stored
	// result instead of crediting twice.
	IdempotencyKey string
}

type Service struct {
	store repository.Store
	tiers Table
	log   *logrus.Logger
	pub   events.Publisher
	now   func() time.Time
}

type Option func(*Service)

func WithPublisher(pub events.Publisher) Option {
	return func(s *Service) { s.pub = pub }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService panics on an invalid tier table; tables are validated when the
// configuration is loaded.
func NewService(store repository.Store, tiers Table, log *logrus.Logger, opts ...Option) *Service {
	if err := tiers.Validate(); err != nil {
		panic(err)
	}
	s := &Service{
		store: store,
		tiers: tiers,
		log:   log,
		pub:   events.Nop,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Tiers() Table { return s.tiers }

func validateCredit(req CreditRequest) error {
	switch {
	case req.UserID == "":
		return apperr.Validation("user id is required")
	case !req.EventType.Valid():
		return apperr.Validation("unknown event type %q", req.EventType)
	case !req.BaseAmount.IsPositive():
		return apperr.Validation("base amount must be positive, got %s", req.BaseAmount)
	case !req.BaseAmount.Equal(req.BaseAmount.Round(2)):
		return apperr.Validation("base amount %s has more than 2 decimal places", req.BaseAmount)
	case len(req.Description) > maxDescriptionLen:
		return apperr.Validation("description longer than %d characters", maxDescriptionLen)
	}
	return nil
}

// Credit applies one loyalty earning event in its own unit of work.
func (s *Service) Credit(ctx context.Context, req CreditRequest) (models.CreditResult, error) {
	if err := validateCredit(req); err != nil {
		return models.CreditResult{}, err
	}

	var res models.CreditResult
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		res, err = s.CreditTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return models.CreditResult{}, err
	}

	s.AfterCommit(ctx, res)
	return res, nil
}

// AfterCommit records metrics and emits the event for a committed credit.
// Callers that use CreditTx inside their own unit of work call it after commit.
func (s *Service) AfterCommit(ctx context.Context, res models.CreditResult) {
	if res.Replayed {
		return
	}
	amount, _ := res.CreditedAmount.Float64()
	metrics.RecordCredit(string(res.Entry.EventType), amount)
	events.Emit(ctx, s.pub, s.log, events.New(events.LoyaltyCredited, res.Entry.UserID, res.Entry.CreatedAt, res))

	if res.LeveledUp {
		s.log.WithFields(logrus.Fields{
			"user_id": res.Entry.UserID,
			"from":    res.PreviousTier,
			"to":      res.Tier.Name,
		}).Info("loyalty tier changed")
	}
}

// CreditTx applies a credit inside the caller's unit of work.
func (s *Service) CreditTx(ctx context.Context, tx repository.Tx, req CreditRequest) (models.CreditResult, error) {
	if err := validateCredit(req); err != nil {
		return models.CreditResult{}, err
	}
	if _, err := tx.GetUser(ctx, req.UserID); err != nil {
		return models.CreditResult{}, err
	}

	now := s.now()
	acct, err := tx.LockLoyaltyAccount(ctx, req.UserID, s.tiers[0].Name, now)
	if err != nil {
		return models.CreditResult{}, err
	}

	if req.IdempotencyKey != "" {
		entry, ok, err := tx.FindLoyaltyEntryByKey(ctx, req.UserID, req.IdempotencyKey)
		if err != nil {
			return models.CreditResult{}, err
		}
		if ok {
			tier := s.tiers.TierFor(acct.Balance)
			return models.CreditResult{
				Entry:          entry,
				CreditedAmount: entry.CreditedAmount,
				NewBalance:     acct.Balance,
				Tier:           tier,
				PreviousTier:   tier.Name,
				Replayed:       true,
			}, nil
		}
	}

	// the multiplier comes from the balance before this credit
	before := s.tiers.TierFor(acct.Balance)
	credited := req.BaseAmount.Mul(before.Multiplier).Round(2)
	newBalance := acct.Balance.Add(credited)
	after := s.tiers.TierFor(newBalance)

	entry := models.LoyaltyEntry{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		EventType:      req.EventType,
		BaseAmount:     req.BaseAmount,
		Multiplier:     before.Multiplier,
		CreditedAmount: credited,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	}
	if err := tx.InsertLoyaltyEntry(ctx, entry); err != nil {
		return models.CreditResult{}, err
	}
	if err := tx.UpdateLoyaltyBalance(ctx, req.UserID, newBalance, after.Name, now); err != nil {
		return models.CreditResult{}, err
	}

	return models.CreditResult{
		Entry:          entry,
		CreditedAmount: credited,
		NewBalance:     newBalance,
		Tier:           after,
		PreviousTier:   before.Name,
		LeveledUp:      after.Name != before.Name,
	}, nil
}

// Account returns the user's balance and ledger. A user that never earned
// anything has a zero balance in the first tier.
func (s *Service) Account(ctx context.Context, userID string) (models.LoyaltyAccount, []models.LoyaltyEntry, error) {
	if userID == "" {
		return models.LoyaltyAccount{}, nil, apperr.Validation("user id is required")
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return models.LoyaltyAccount{}, nil, err
	}

	acct, err := s.store.GetLoyaltyAccount(ctx, userID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return models.LoyaltyAccount{}, nil, err
		}
		acct = models.LoyaltyAccount{UserID: userID, Balance: decimal.Zero, Tier: s.tiers[0].Name}
	}

	entries, err := s.store.ListLoyaltyEntries(ctx, userID)
	if err != nil {
		return models.LoyaltyAccount{}, nil, err
	}
	return acct, entries, nil
}

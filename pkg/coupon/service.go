// Package coupon issues personal, uniquely coded coupons. A user holds at
// most one redeemable coupon per coupon type; issuing again while it is
// redeemable returns the existing coupon untouched.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/medreza/honcho-rewards/pkg/apperr"
	"github.com/medreza/honcho-rewards/pkg/codegen"
	"github.com/medreza/honcho-rewards/pkg/events"
	"github.com/medreza/honcho-rewards/pkg/metrics"
	"github.com/medreza/honcho-rewards/pkg/models"
	"github.com/medreza/honcho-rewards/pkg/repository"
)

// DefaultValidity is the fixed validity window of a new coupon.
const DefaultValidity = 30 * 24 * time.Hour

const maxSourceLen = 64

type Service struct {
	store    repository.Store
	log      *logrus.Logger
	pub      events.Publisher
	now      func() time.Time
	validity time.Duration
	codes    codegen.Generator
}

type Option func(*Service)

func WithPublisher(pub events.Publisher) Option {
	return func(s *Service) { s.pub = pub }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithValidity(d time.Duration) Option {
	return func(s *Service) { s.validity = d }
}

func WithCodeGenerator(g codegen.Generator) Option {
	return func(s *Service) { s.codes = g }
}

func NewService(store repository.Store, log *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		log:      log,
		pub:      events.Nop,
		now:      func() time.Time { return time.Now().UTC() },
		validity: DefaultValidity,
		codes:    codegen.Coupon,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateIssue(userID, couponTypeID, source string) error {
	switch {
	case userID == "":
		return apperr.Validation("user id is required")
	case couponTypeID == "":
		return apperr.Validation("coupon type id is required")
	case source == "":
		return apperr.Validation("source is required")
	case len(source) > maxSourceLen:
		return apperr.Validation("source longer than %d characters", maxSourceLen)
	}
	return nil
}

// Issue grants a coupon of the given type in its own unit of work.
func (s *Service) Issue(ctx context.Context, userID, couponTypeID, source string) (models.CouponResult, error) {
	if err := validateIssue(userID, couponTypeID, source); err != nil {
		return models.CouponResult{}, err
	}

	var res models.CouponResult
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		res, err = s.IssueTx(ctx, tx, userID, couponTypeID, source)
		return err
	})
	if err != nil {
		return models.CouponResult{}, err
	}

	s.AfterCommit(ctx, res)
	return res, nil
}

// AfterCommit records metrics and emits the event for a committed issuance.
func (s *Service) AfterCommit(ctx context.Context, res models.CouponResult) {
	metrics.RecordCoupon(res.Coupon.Source, res.AlreadyOwned)
	if res.AlreadyOwned {
		return
	}
	events.Emit(ctx, s.pub, s.log, events.New(events.CouponIssued, res.Coupon.UserID, res.Coupon.CreatedAt, res.Coupon))
}

// IssueTx grants a coupon inside the caller's unit of work. The coupon slot
// lock serializes concurrent issuance for the same user and coupon type.
func (s *Service) IssueTx(ctx context.Context, tx repository.Tx, userID, couponTypeID, source string) (models.CouponResult, error) {
	if err := validateIssue(userID, couponTypeID, source); err != nil {
		return models.CouponResult{}, err
	}
	if _, err := tx.GetUser(ctx, userID); err != nil {
		return models.CouponResult{}, err
	}
	ct, err := tx.GetCouponType(ctx, couponTypeID)
	if err != nil {
		return models.CouponResult{}, err
	}

	now := s.now()
	currentID, err := tx.LockCouponSlot(ctx, userID, couponTypeID)
	if err != nil {
		return models.CouponResult{}, err
	}
	if currentID != "" {
		current, err := tx.GetIssuedCoupon(ctx, currentID)
		if err != nil {
			return models.CouponResult{}, err
		}
		if current.Redeemable(now) {
			return models.CouponResult{Coupon: current, AlreadyOwned: true}, nil
		}
	}

	c := models.IssuedCoupon{
		ID:           uuid.NewString(),
		UserID:       userID,
		CouponTypeID: couponTypeID,
		Source:       source,
		ValidUntil:   now.Add(s.validity),
		CreatedAt:    now,
	}
	if err := s.insertWithFreshCode(ctx, tx, &c, ct.Code, now); err != nil {
		return models.CouponResult{}, err
	}
	if err := tx.SetCouponSlot(ctx, userID, couponTypeID, c.ID); err != nil {
		return models.CouponResult{}, err
	}
	return models.CouponResult{Coupon: c}, nil
}

// insertWithFreshCode regenerates the code once on a collision.
func (s *Service) insertWithFreshCode(ctx context.Context, tx repository.Tx, c *models.IssuedCoupon, prefix string, now time.Time) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		c.UniqueCode, err = s.codes(prefix, now)
		if err != nil {
			return fmt.Errorf("generate coupon code: %w", err)
		}
		err = tx.InsertCoupon(ctx, *c)
		if !errors.Is(err, repository.ErrDuplicateCode) {
			return err
		}
		s.log.WithFields(logrus.Fields{
			"user_id": c.UserID,
			"attempt": attempt + 1,
		}).Warn("coupon code collision")
	}
	return fmt.Errorf("coupon code for %s: %w", prefix, err)
}

// ListForUser returns every coupon the user was issued, oldest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]models.IssuedCoupon, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	return s.store.ListCoupons(ctx, userID)
}

// Package play records game attempts. The per-(user, game) slot lock and the
// unique play index make the cap check and the insert one atomic step, and a
// win issues its coupon in the same unit of work as the play row.
package play

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/medreza/honcho-rewards/pkg/apperr"
	"github.com/medreza/honcho-rewards/pkg/coupon"
	"github.com/medreza/honcho-rewards/pkg/draw"
	"github.com/medreza/honcho-rewards/pkg/events"
	"github.com/medreza/honcho-rewards/pkg/metrics"
	"github.com/medreza/honcho-rewards/pkg/models"
	"github.com/medreza/honcho-rewards/pkg/repository"
)

const maxRequestIDLen = 128

type Service struct {
	store   repository.Store
	coupons *coupon.Service
	log     *logrus.Logger
	pub     events.Publisher
	rng     draw.RNG
	now     func() time.Time
}

type Option func(*Service)

func WithPublisher(pub events.Publisher) Option {
	return func(s *Service) { s.pub = pub }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRNG replaces the draw source. The RNG must be safe for concurrent use.
func WithRNG(rng draw.RNG) Option {
	return func(s *Service) { s.rng = rng }
}

func NewService(store repository.Store, coupons *coupon.Service, log *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		coupons: coupons,
		log:     log,
		pub:     events.Nop,
		rng:     draw.Default,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit plays one attempt of gameID for userID. A non-empty requestID makes
// the attempt idempotent: resubmitting it returns the stored result without
// drawing again.
func (s *Service) Submit(ctx context.Context, userID, gameID, requestID string) (models.PlayResult, error) {
	switch {
	case userID == "":
		return models.PlayResult{}, apperr.Validation("user id is required")
	case gameID == "":
		return models.PlayResult{}, apperr.Validation("game id is required")
	case len(requestID) > maxRequestIDLen:
		return models.PlayResult{}, apperr.Validation("request id longer than %d characters", maxRequestIDLen)
	}

	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return models.PlayResult{}, err
	}
	if !game.IsActive {
		return models.PlayResult{}, apperr.Inactive("game", gameID)
	}
	if err := draw.Validate(game.WinProbability); err != nil {
		return models.PlayResult{}, err
	}

	var (
		res       models.PlayResult
		couponRes *models.CouponResult
	)
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		res, couponRes = models.PlayResult{}, nil
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}

		used, err := tx.LockPlaySlot(ctx, userID, gameID)
		if err != nil {
			return err
		}

		if requestID != "" {
			prev, ok, err := tx.FindPlayByRequest(ctx, userID, gameID, requestID)
			if err != nil {
				return err
			}
			if ok {
				res, err = s.replay(ctx, tx, game, prev, used)
				return err
			}
		}

		if used >= game.MaxPlaysPerUser {
			return apperr.LimitExceeded(gameID, game.MaxPlaysPerUser)
		}

		won, err := draw.Draw(game.WinProbability, s.rng)
		if err != nil {
			return err
		}

		now := s.now()
		rec := models.PlayRecord{
			ID:        uuid.NewString(),
			GameID:    gameID,
			UserID:    userID,
			PlayIndex: used + 1,
			RequestID: requestID,
			Outcome:   models.OutcomeLost,
			CreatedAt: now,
		}
		res.State = models.PlayStateRecorded

		if won {
			cr, err := s.coupons.IssueTx(ctx, tx, userID, game.RewardCouponTypeID, string(game.Kind))
			if err != nil {
				return err
			}
			couponRes = &cr
			rec.Outcome = models.OutcomeWon
			rec.IssuedCouponID = cr.Coupon.ID
			res.Coupon = &cr.Coupon
			res.State = models.PlayStateCouponIssued
			if cr.AlreadyOwned {
				res.State = models.PlayStateCouponAlreadyOwned
			}
		}

		if err := tx.InsertPlay(ctx, rec); err != nil {
			return err
		}
		res.Outcome = rec.Outcome
		res.Play = rec
		res.PlaysUsed = rec.PlayIndex
		res.PlaysRemaining = remaining(game.MaxPlaysPerUser, rec.PlayIndex)
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrLimitExceeded) {
			metrics.RecordPlay(string(game.Kind), string(models.PlayStateRejected))
		}
		return models.PlayResult{}, err
	}

	if res.Replayed {
		return res, nil
	}
	metrics.RecordPlay(string(game.Kind), string(res.State))
	if couponRes != nil {
		s.coupons.AfterCommit(ctx, *couponRes)
	}
	events.Emit(ctx, s.pub, s.log, events.New(events.PlayRecorded, userID, res.Play.CreatedAt, res))
	return res, nil
}

func (s *Service) replay(ctx context.Context, tx repository.Tx, game models.GameDefinition, prev models.PlayRecord, used int) (models.PlayResult, error) {
	res := models.PlayResult{
		Outcome:        prev.Outcome,
		State:          models.PlayStateRecorded,
		Play:           prev,
		PlaysUsed:      used,
		PlaysRemaining: remaining(game.MaxPlaysPerUser, used),
		Replayed:       true,
	}
	if prev.IssuedCouponID != "" {
		c, err := tx.GetIssuedCoupon(ctx, prev.IssuedCouponID)
		if err != nil {
			return models.PlayResult{}, err
		}
		res.Coupon = &c
		res.State = models.PlayStateCouponIssued
		// a win whose coupon was created by an earlier play
		if c.CreatedAt.Before(prev.CreatedAt) {
			res.State = models.PlayStateCouponAlreadyOwned
		}
	}
	return res, nil
}

// Usage reports how many attempts the user spent on the game.
func (s *Service) Usage(ctx context.Context, userID, gameID string) (models.PlayUsage, error) {
	if userID == "" || gameID == "" {
		return models.PlayUsage{}, apperr.Validation("user id and game id are required")
	}
	game, err := s.store.GetGame(ctx, gameID)
	if err != nil {
		return models.PlayUsage{}, err
	}
	plays, err := s.store.ListPlays(ctx, userID, gameID)
	if err != nil {
		return models.PlayUsage{}, err
	}
	return models.PlayUsage{
		GameID:         gameID,
		UserID:         userID,
		PlaysUsed:      len(plays),
		PlaysRemaining: remaining(game.MaxPlaysPerUser, len(plays)),
		Plays:          plays,
	}, nil
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}

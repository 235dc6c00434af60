package referral

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medreza/honcho-rewards/pkg/apperr"
	"github.com/medreza/honcho-rewards/pkg/events"
	"github.com/medreza/honcho-rewards/pkg/loyalty"
	"github.com/medreza/honcho-rewards/pkg/models"
	"github.com/medreza/honcho-rewards/pkg/repository"
)

var fixedNow = time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	loyalty *loyalty.Service
	store   *repository.MemoryStore
	rec     *events.Recorder
}

func setup(t *testing.T, opts ...Option) fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	for _, u := range []models.User{
		{ID: "morgan", DisplayName: "Morgan"},
		{ID: "ben", DisplayName: "Ben"},
		{ID: "cleo", DisplayName: "Cleo"},
	} {
		require.NoError(t, store.UpsertUser(ctx, u))
	}

	log, _ := test.NewNullLogger()
	rec := events.NewRecorder()
	clock := func() time.Time { return fixedNow }
	loyaltySvc := loyalty.NewService(store, loyalty.DefaultTable(), log,
		loyalty.WithClock(clock), loyalty.WithPublisher(rec))
	opts = append([]Option{WithClock(clock), WithPublisher(rec)}, opts...)
	return fixture{
		svc:     NewService(store, loyaltySvc, log, opts...),
		loyalty: loyaltySvc,
		store:   store,
		rec:     rec,
	}
}

func seedCode(t *testing.T, store *repository.MemoryStore, userID, code, reward string) {
	t.Helper()
	err := store.InTx(context.Background(), func(tx repository.Tx) error {
		inserted, err := tx.InsertReferralCode(context.Background(), models.ReferralCode{
			UserID:      userID,
			Code:        code,
			RewardValue: decimal.RequireFromString(reward),
			IsActive:    true,
			CreatedAt:   fixedNow,
		})
		require.True(t, inserted)
		return err
	})
	require.NoError(t, err)
}

func balance(t *testing.T, f fixture, userID string) decimal.Decimal {
	t.Helper()
	acct, _, err := f.loyalty.Account(context.Background(), userID)
	require.NoError(t, err)
	return acct.Balance
}

func TestRedeemCreditsSponsorOncePerOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedCode(t, f.store, "morgan", "MORG1A2B3C", "5.00")

	res, err := f.svc.Redeem(ctx, "MORG1A2B3C", "ben", "O-100")
	require.NoError(t, err)
	assert.True(t, res.SponsorCredited)
	assert.True(t, res.ReferredCredited)
	assert.False(t, res.Duplicate)
	require.NotNil(t, res.SponsorCredit)
	assert.True(t, res.SponsorCredit.CreditedAmount.Equal(decimal.RequireFromString("5.00")))
	assert.True(t, balance(t, f, "morgan").Equal(decimal.RequireFromString("5.00")))

	// a different order is a distinct qualifying event
	res, err = f.svc.Redeem(ctx, "MORG1A2B3C", "cleo", "O-101")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	afterSecond := balance(t, f, "morgan")
	assert.True(t, afterSecond.GreaterThan(decimal.RequireFromString("5.00")))

	// resubmitting O-100 credits nothing further
	res, err = f.svc.Redeem(ctx, "MORG1A2B3C", "ben", "O-100")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.True(t, res.SponsorCredited)
	assert.Nil(t, res.SponsorCredit)
	assert.True(t, balance(t, f, "morgan").Equal(afterSecond))

	stats, err := f.svc.Stats(ctx, "morgan")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Code.UsageCount)
	assert.Len(t, stats.Uses, 2)

	_, entries, err := f.loyalty.Account(ctx, "morgan")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, models.EventReferral, e.EventType)
	}
	assert.Len(t, f.rec.Events(events.ReferralRedeemed), 2)
}

func TestRedeemCreditIgnoresExternalIdempotencyKeys(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedCode(t, f.store, "morgan", "MORG1A2B3C", "5.00")

	// an outside credit whose key looks like one a referral might use
	_, err := f.loyalty.Credit(ctx, loyalty.CreditRequest{
		UserID:         "morgan",
		EventType:      models.EventDailyLogin,
		BaseAmount:     decimal.RequireFromString("1.00"),
		IdempotencyKey: "referral:O-200",
	})
	require.NoError(t, err)

	res, err := f.svc.Redeem(ctx, "MORG1A2B3C", "ben", "O-200")
	require.NoError(t, err)
	require.NotNil(t, res.SponsorCredit)
	assert.False(t, res.SponsorCredit.Replayed)
	assert.True(t, res.SponsorCredit.CreditedAmount.Equal(decimal.RequireFromString("5.00")))
	assert.True(t, balance(t, f, "morgan").Equal(decimal.RequireFromString("6.00")))

	_, entries, err := f.loyalty.Account(ctx, "morgan")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRedeemDuplicateOrderAfterCodeDisabled(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedCode(t, f.store, "morgan", "MORG1A2B3C", "5.00")

	first, err := f.svc.Redeem(ctx, "MORG1A2B3C", "ben", "O-100")
	require.NoError(t, err)

	require.NoError(t, f.store.SetReferralCodeState(ctx, "MORG1A2B3C", false, nil))
	res, err := f.svc.Redeem(ctx, "MORG1A2B3C", "ben", "O-100")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.True(t, res.SponsorCredited)
	assert.Equal(t, first.Use.ID, res.Use.ID)

	expired := fixedNow.Add(-time.Hour)
	require.NoError(t, f.store.SetReferralCodeState(ctx, "MORG1A2B3C", true, &expired))
	res, err = f.svc.Redeem(ctx, "MORG1A2B3C", "ben", "O-100")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	// new orders still see the code as expired
	_, err = f.svc.Redeem(ctx, "MORG1A2B3C", "ben", "O-101")
	assert.ErrorIs(t, err, apperr.ErrExpired)
	assert.True(t, balance(t, f, "morgan").Equal(decimal.RequireFromString("5.00")))
}

func TestRedeemConcurrentDuplicateWebhooks(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedCode(t, f.store, "morgan", "MORG1A2B3C", "5.00")

	const deliveries = 30
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		duplicates int
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Redeem(ctx, "MORG1A2B3C", "ben", "O-200")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Duplicate {
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, deliveries-1, duplicates)
	uses, err := f.store.ListReferralUses(ctx, "MORG1A2B3C")
	require.NoError(t, err)
	assert.Len(t, uses, 1)
	assert.True(t, balance(t, f, "morgan").Equal(decimal.RequireFromString("5.00")))
}

func TestRedeemRejectsUnusableCodes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedCode(t, f.store, "morgan", "MORGOFF", "5.00")
	seedCode(t, f.store, "cleo", "CLEOOLD", "5.00")

	require.NoError(t, f.store.SetReferralCodeState(ctx, "MORGOFF", false, nil))
	expired := fixedNow.Add(-time.Minute)
	require.NoError(t, f.store.SetReferralCodeState(ctx, "CLEOOLD", true, &expired))

	_, err := f.svc.Redeem(ctx, "NOPE", "ben", "O-1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Redeem(ctx, "MORGOFF", "ben", "O-2")
	assert.ErrorIs(t, err, apperr.ErrInactive)
	assert.NotErrorIs(t, err, apperr.ErrExpired)

	_, err = f.svc.Redeem(ctx, "CLEOOLD", "ben", "O-3")
	assert.ErrorIs(t, err, apperr.ErrExpired)

	uses, err := f.store.ListReferralUses(ctx, "MORGOFF")
	require.NoError(t, err)
	assert.Empty(t, uses)
}

func TestRedeemValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedCode(t, f.store, "morgan", "MORG1A2B3C", "5.00")

	_, err := f.svc.Redeem(ctx, "MORG1A2B3C", "morgan", "O-1")
	assert.ErrorIs(t, err, apperr.ErrValidation, "self referral")
	_, err = f.svc.Redeem(ctx, "", "ben", "O-1")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Redeem(ctx, "MORG1A2B3C", "ben", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Redeem(ctx, "MORG1A2B3C", "ghost", "O-1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRedeemIsAtomic(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seedCode(t, f.store, "morgan", "MORG1A2B3C", "5.00")

	f.store.SetFault("IncrementReferralUsage", errors.New("timeout"))
	_, err := f.svc.Redeem(ctx, "MORG1A2B3C", "ben", "O-300")
	require.ErrorIs(t, err, apperr.ErrPersistence)

	uses, err := f.store.ListReferralUses(ctx, "MORG1A2B3C")
	require.NoError(t, err)
	assert.Empty(t, uses)
	assert.True(t, balance(t, f, "morgan").IsZero())

	// the order can be redeemed once the store recovers
	f.store.SetFault("IncrementReferralUsage", nil)
	res, err := f.svc.Redeem(ctx, "MORG1A2B3C", "ben", "O-300")
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.True(t, balance(t, f, "morgan").Equal(decimal.RequireFromString("5.00")))
}

func TestCodeForIsLazyAndIdempotent(t *testing.T) {
	f := setup(t, WithCodeTTL(48*time.Hour))
	ctx := context.Background()

	_, err := f.svc.Stats(ctx, "morgan")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	first, err := f.svc.CodeFor(ctx, "morgan")
	require.NoError(t, err)
	assert.Regexp(t, `^MORG[2-9A-HJ-NP-Z]{6}$`, first.Code)
	assert.True(t, first.RewardValue.Equal(DefaultReward))
	assert.True(t, first.IsActive)
	require.NotNil(t, first.ExpiresAt)
	assert.Equal(t, fixedNow.Add(48*time.Hour), *first.ExpiresAt)

	second, err := f.svc.CodeFor(ctx, "morgan")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = f.svc.CodeFor(ctx, "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCodeForConcurrentCallsShareOneCode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	const callers = 20
	codes := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rc, err := f.svc.CodeFor(ctx, "ben")
			if assert.NoError(t, err) {
				codes[i] = rc.Code
			}
		}(i)
	}
	wg.Wait()

	for _, c := range codes {
		assert.Equal(t, codes[0], c)
	}
}

func TestCodeForRegeneratesOnCollision(t *testing.T) {
	var calls int
	gen := func(name string, _ time.Time) (string, error) {
		calls++
		if calls <= 2 {
			return "TAKEN1", nil
		}
		return "FRESH1", nil
	}
	f := setup(t, WithCodeGenerator(gen), WithReward(decimal.RequireFromString("7.50")))
	ctx := context.Background()

	// morgan takes TAKEN1, ben collides once and gets FRESH1
	first, err := f.svc.CodeFor(ctx, "morgan")
	require.NoError(t, err)
	assert.Equal(t, "TAKEN1", first.Code)

	second, err := f.svc.CodeFor(ctx, "ben")
	require.NoError(t, err)
	assert.Equal(t, "FRESH1", second.Code)
	assert.True(t, second.RewardValue.Equal(decimal.RequireFromString("7.50")))
	assert.Equal(t, 3, calls)
}

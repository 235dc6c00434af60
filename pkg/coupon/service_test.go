package coupon

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
	"github.com/medreza/honcho-rewards/pkg/models"
	"github.com/medreza/honcho-rewards/pkg/repository"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc   *Service
	store *repository.MemoryStore
	clock *clock
	rec   *events.Recorder
}

func setup(t *testing.T, opts ...Option) fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	require.NoError(t, store.UpsertUser(ctx, models.User{ID: "u1", DisplayName: "Uma"}))
	require.NoError(t, store.UpsertUser(ctx, models.User{ID: "u2", DisplayName: "Ugo"}))
	require.NoError(t, store.UpsertCouponType(ctx, models.CouponType{
		ID: "ct-10off", Code: "TENOFF", Kind: models.CouponKindPercentage, Value: decimal.NewFromInt(10),
	}))

	clk := &clock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	rec := events.NewRecorder()
	log, _ := test.NewNullLogger()
	opts = append([]Option{WithClock(clk.Now), WithPublisher(rec)}, opts...)
	return fixture{svc: NewService(store, log, opts...), store: store, clock: clk, rec: rec}
}

func TestIssueNewCoupon(t *testing.T) {
	f := setup(t)

	res, err := f.svc.Issue(context.Background(), "u1", "ct-10off", "wheel")
	require.NoError(t, err)

	assert.False(t, res.AlreadyOwned)
	assert.Regexp(t, `^TENOFF-`, res.Coupon.UniqueCode)
	assert.Equal(t, "wheel", res.Coupon.Source)
	assert.False(t, res.Coupon.IsUsed)
	assert.Equal(t, f.clock.Now().Add(30*24*time.Hour), res.Coupon.ValidUntil)
	assert.Len(t, f.rec.Events(events.CouponIssued), 1)
}

func TestIssueIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, "u1", "ct-10off", "wheel")
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	second, err := f.svc.Issue(ctx, "u1", "ct-10off", "scratch")
	require.NoError(t, err)

	assert.True(t, second.AlreadyOwned)
	assert.Equal(t, first.Coupon.UniqueCode, second.Coupon.UniqueCode)
	assert.Equal(t, first.Coupon.ValidUntil, second.Coupon.ValidUntil, "re-grant must not extend validity")

	coupons, err := f.svc.ListForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, coupons, 1)
	assert.Len(t, f.rec.Events(events.CouponIssued), 1)
}

// Double-dip: the same user hammering issuance for one coupon type.
func TestIssueConcurrentSameUser(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	const requests = 50
	codes := make([]string, requests)
	var wg sync.WaitGroup
	wg.Add(requests)
	for i := 0; i < requests; i++ {
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Issue(ctx, "u1", "ct-10off", "wheel")
			if assert.NoError(t, err) {
				codes[i] = res.Coupon.UniqueCode
			}
		}(i)
	}
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, codes[0], code)
	}
	coupons, err := f.store.ListCoupons(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, coupons, 1)
}

func TestIssueAfterUseOrExpiry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, "u1", "ct-10off", "wheel")
	require.NoError(t, err)
	require.NoError(t, f.store.MarkCouponUsed(ctx, first.Coupon.ID))

	second, err := f.svc.Issue(ctx, "u1", "ct-10off", "wheel")
	require.NoError(t, err)
	assert.False(t, second.AlreadyOwned)
	assert.NotEqual(t, first.Coupon.UniqueCode, second.Coupon.UniqueCode)

	f.clock.Advance(DefaultValidity)
	third, err := f.svc.Issue(ctx, "u1", "ct-10off", "wheel")
	require.NoError(t, err)
	assert.False(t, third.AlreadyOwned, "expired coupon must not block a new one")

	coupons, err := f.svc.ListForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, coupons, 3)
}

func TestIssueIsPerUser(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	a, err := f.svc.Issue(ctx, "u1", "ct-10off", "wheel")
	require.NoError(t, err)
	b, err := f.svc.Issue(ctx, "u2", "ct-10off", "wheel")
	require.NoError(t, err)

	assert.False(t, b.AlreadyOwned)
	assert.NotEqual(t, a.Coupon.UniqueCode, b.Coupon.UniqueCode)
}

func TestIssueRetriesCodeCollisionOnce(t *testing.T) {
	var calls int
	codes := []string{"TENOFF-SAME", "TENOFF-SAME", "TENOFF-OTHER"}
	gen := func(string, time.Time) (string, error) {
		code := codes[calls]
		calls++
		return code, nil
	}
	f := setup(t, WithCodeGenerator(gen))
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, "u1", "ct-10off", "wheel")
	require.NoError(t, err)

	res, err := f.svc.Issue(ctx, "u2", "ct-10off", "wheel")
	require.NoError(t, err)
	assert.Equal(t, "TENOFF-OTHER", res.Coupon.UniqueCode)
	assert.Equal(t, 3, calls)
}

func TestIssueFailsConflictAfterSecondCollision(t *testing.T) {
	gen := func(string, time.Time) (string, error) { return "TENOFF-FIXED", nil }
	f := setup(t, WithCodeGenerator(gen))
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, "u1", "ct-10off", "wheel")
	require.NoError(t, err)

	_, err = f.svc.Issue(ctx, "u2", "ct-10off", "wheel")
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.True(t, apperr.Retryable(err))

	coupons, err := f.store.ListCoupons(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, coupons)
}

func TestIssueErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, "", "ct-10off", "wheel")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Issue(ctx, "u1", "ct-10off", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.Issue(ctx, "u1", "missing", "wheel")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.Issue(ctx, "ghost", "ct-10off", "wheel")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	f.store.SetFault("SetCouponSlot", errors.New("io"))
	_, err = f.svc.Issue(ctx, "u1", "ct-10off", "wheel")
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	coupons, err := f.store.ListCoupons(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, coupons, "coupon row must roll back with the slot update")
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medreza/honcho-rewards/pkg/apperr"
	"github.com/medreza/honcho-rewards/pkg/models"
)

// ErrDuplicateCode is returned when a generated coupon or referral code
// collides with an existing one. Callers regenerate and retry.
var ErrDuplicateCode = fmt.Errorf("%w: duplicate code", apperr.ErrConflict)

// Store is the single shared mutable resource of the ledger. All cross-request
// coordination goes through InTx.
type Store interface {
	Reader
	Seeder

	// InTx runs fn as one atomic unit of work. Writes made through tx become
	// visible only if fn returns nil; otherwise none of them do.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Reader serves snapshot reads outside a transaction.
type Reader interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	GetGame(ctx context.Context, id string) (models.GameDefinition, error)
	GetCouponType(ctx context.Context, id string) (models.CouponType, error)
	ListPlays(ctx context.Context, userID, gameID string) ([]models.PlayRecord, error)
	ListCoupons(ctx context.Context, userID string) ([]models.IssuedCoupon, error)
	GetLoyaltyAccount(ctx context.Context, userID string) (models.LoyaltyAccount, error)
	ListLoyaltyEntries(ctx context.Context, userID string) ([]models.LoyaltyEntry, error)
	GetReferralCodeByUser(ctx context.Context, userID string) (models.ReferralCode, error)
	ListReferralUses(ctx context.Context, code string) ([]models.ReferralUse, error)
}

// Seeder loads the admin-owned reference data. The ledger never calls it
// while serving requests.
type Seeder interface {
	UpsertUser(ctx context.Context, u models.User) error
	UpsertGame(ctx context.Context, g models.GameDefinition) error
	UpsertCouponType(ctx context.Context, ct models.CouponType) error
}

// Tx is the view of the store inside one unit of work. Lock* methods take a
// row lock that is held until the unit of work ends, serializing concurrent
// requests on the same key.
type Tx interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	GetCouponType(ctx context.Context, id string) (models.CouponType, error)

	// LockPlaySlot locks the (user, game) slot and returns the number of
	// plays recorded so far.
	LockPlaySlot(ctx context.Context, userID, gameID string) (int, error)
	// FindPlayByRequest returns the play stored under a client request id.
	FindPlayByRequest(ctx context.Context, userID, gameID, requestID string) (models.PlayRecord, bool, error)
	// InsertPlay appends a play and advances the slot counter. A duplicate
	// (user, game, play index) fails with apperr.ErrConflict.
	InsertPlay(ctx context.Context, p models.PlayRecord) error

	// LockCouponSlot locks the (user, coupon type) slot and returns the id
	// of the coupon it currently points at, or "" if none.
	LockCouponSlot(ctx context.Context, userID, couponTypeID string) (string, error)
	GetIssuedCoupon(ctx context.Context, id string) (models.IssuedCoupon, error)
	// InsertCoupon fails with ErrDuplicateCode on a unique code collision
	// and leaves the unit of work usable.
	InsertCoupon(ctx context.Context, c models.IssuedCoupon) error
	SetCouponSlot(ctx context.Context, userID, couponTypeID, couponID string) error

	// LockLoyaltyAccount locks the account, creating a zero balance account
	// on first use.
	LockLoyaltyAccount(ctx context.Context, userID, initialTier string, now time.Time) (models.LoyaltyAccount, error)
	FindLoyaltyEntryByKey(ctx context.Context, userID, key string) (models.LoyaltyEntry, bool, error)
	InsertLoyaltyEntry(ctx context.Context, e models.LoyaltyEntry) error
	UpdateLoyaltyBalance(ctx context.Context, userID string, balance decimal.Decimal, tier string, now time.Time) error

	GetReferralCodeByUser(ctx context.Context, userID string) (models.ReferralCode, bool, error)
	// InsertReferralCode reports false when the user already owns a code.
	// A collision on the code itself fails with ErrDuplicateCode.
	InsertReferralCode(ctx context.Context, rc models.ReferralCode) (bool, error)
	GetReferralCode(ctx context.Context, code string) (models.ReferralCode, error)
	IncrementReferralUsage(ctx context.Context, code string) error
	// InsertReferralUse reports false when the order already has a use.
	InsertReferralUse(ctx context.Context, u models.ReferralUse) (bool, error)
	GetReferralUseByOrder(ctx context.Context, orderID string) (models.ReferralUse, error)
	// MarkSponsorCredited flips sponsor_credited false->true and reports
	// whether this call performed the flip.
	MarkSponsorCredited(ctx context.Context, useID string) (bool, error)
	MarkReferredCredited(ctx context.Context, useID string) (bool, error)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

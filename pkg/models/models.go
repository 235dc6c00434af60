package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type GameKind string

const (
	GameKindCardFlip    GameKind = "card_flip"
	GameKindWheel       GameKind = "wheel"
	GameKindScratchCard GameKind = "scratch_card"
)

// Valid reports whether k is one of the supported game kinds.
func (k GameKind) Valid() bool {
	switch k {
	case GameKindCardFlip, GameKindWheel, GameKindScratchCard:
		return true
	}
	return false
}

// User is owned by the identity collaborator. The ledger only needs the
// immutable id and the display name used to derive referral codes.
type User struct {
	ID          string    `json:"id" yaml:"id"`
	DisplayName string    `json:"display_name" yaml:"display_name"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
}

// GameDefinition is a snapshot of an admin-managed game.
type GameDefinition struct {
	ID                 string   `json:"id" yaml:"id"`
	Kind               GameKind `json:"kind" yaml:"kind"`
	Name               string   `json:"name" yaml:"name"`
	WinProbability     float64  `json:"win_probability" yaml:"win_probability"`
	MaxPlaysPerUser    int      `json:"max_plays_per_user" yaml:"max_plays_per_user"`
	RewardCouponTypeID string   `json:"reward_coupon_type_id" yaml:"reward_coupon_type_id"`
	IsActive           bool     `json:"is_active" yaml:"is_active"`
}

type PlayOutcome string

const (
	OutcomeWon  PlayOutcome = "won"
	OutcomeLost PlayOutcome = "lost"
)

// PlayRecord is an append-only row, one per accepted attempt.
type PlayRecord struct {
	ID             string      `json:"id"`
	GameID         string      `json:"game_id"`
	UserID         string      `json:"user_id"`
	PlayIndex      int         `json:"play_index"`
	RequestID      string      `json:"request_id,omitempty"`
	Outcome        PlayOutcome `json:"outcome"`
	IssuedCouponID string      `json:"issued_coupon_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

type CouponKind string

const (
	CouponKindFixed        CouponKind = "fixed"
	CouponKindPercentage   CouponKind = "percentage"
	CouponKindFreeShipping CouponKind = "free_shipping"
)

// Valid reports whether k is one of the supported coupon kinds.
func (k CouponKind) Valid() bool {
	switch k {
	case CouponKindFixed, CouponKindPercentage, CouponKindFreeShipping:
		return true
	}
	return false
}

type CouponType struct {
	ID          string          `json:"id" yaml:"id"`
	Code        string          `json:"code" yaml:"code"`
	Kind        CouponKind      `json:"kind" yaml:"kind"`
	Value       decimal.Decimal `json:"value" yaml:"-"`
	Description string          `json:"description" yaml:"description"`
}

// IssuedCoupon is a user's personal, uniquely coded coupon.
type IssuedCoupon struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CouponTypeID string    `json:"coupon_type_id"`
	UniqueCode   string    `json:"unique_code"`
	Source       string    `json:"source"`
	IsUsed       bool      `json:"is_used"`
	ValidUntil   time.Time `json:"valid_until"`
	CreatedAt    time.Time `json:"created_at"`
}

// Redeemable reports whether the coupon is unused and still valid at now.
func (c IssuedCoupon) Redeemable(now time.Time) bool {
	return !c.IsUsed && now.Before(c.ValidUntil)
}

type LoyaltyEventType string

const (
	EventDailyLogin   LoyaltyEventType = "daily_login"
	EventDiamondFound LoyaltyEventType = "diamond_found"
	EventReview       LoyaltyEventType = "review"
	EventCashback     LoyaltyEventType = "cashback"
	EventReferral     LoyaltyEventType = "referral"
)

// Valid reports whether t is a known loyalty earning event.
func (t LoyaltyEventType) Valid() bool {
	switch t {
	case EventDailyLogin, EventDiamondFound, EventReview, EventCashback, EventReferral:
		return true
	}
	return false
}

type LoyaltyTier struct {
	Name       string          `json:"name"`
	MinBalance decimal.Decimal `json:"min_balance"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// LoyaltyAccount holds the denormalized balance. It always equals the sum
// of the account's ledger entries.
type LoyaltyAccount struct {
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Tier      string          `json:"tier"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LoyaltyEntry is an immutable ledger row.
type LoyaltyEntry struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	EventType      LoyaltyEventType `json:"event_type"`
	BaseAmount     decimal.Decimal  `json:"base_amount"`
	Multiplier     decimal.Decimal  `json:"multiplier"`
	CreditedAmount decimal.Decimal  `json:"credited_amount"`
	Description    string           `json:"description"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

type ReferralCode struct {
	UserID      string          `json:"user_id"`
	Code        string          `json:"code"`
	UsageCount  int             `json:"usage_count"`
	RewardValue decimal.Decimal `json:"reward_value"`
	IsActive    bool            `json:"is_active"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type ReferralUse struct {
	ID               string    `json:"id"`
	ReferralCode     string    `json:"referral_code"`
	ReferredUserID   string    `json:"referred_user_id"`
	OrderID          string    `json:"order_id"`
	SponsorCredited  bool      `json:"sponsor_credited"`
	ReferredCredited bool      `json:"referred_credited"`
	CreatedAt        time.Time `json:"created_at"`
}

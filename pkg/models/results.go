package models

import "github.com/shopspring/decimal"

// PlayState is the terminal state a play attempt reached.
type PlayState string

const (
	PlayStateRejected           PlayState = "rejected"
	PlayStateRecorded           PlayState = "recorded"
	PlayStateCouponIssued       PlayState = "coupon_issued"
	PlayStateCouponAlreadyOwned PlayState = "coupon_already_owned"
)

type PlayResult struct {
	Outcome        PlayOutcome   `json:"outcome"`
	State          PlayState     `json:"state"`
	Play           PlayRecord    `json:"play"`
	Coupon         *IssuedCoupon `json:"coupon,omitempty"`
	PlaysUsed      int           `json:"plays_used"`
	PlaysRemaining int           `json:"plays_remaining"`
	// Replayed is set when a retried request id returned the stored attempt.
	Replayed bool `json:"replayed"`
}

type CouponResult struct {
	Coupon       IssuedCoupon `json:"coupon"`
	AlreadyOwned bool         `json:"already_owned"`
}

type CreditResult struct {
	Entry          LoyaltyEntry    `json:"entry"`
	CreditedAmount decimal.Decimal `json:"credited_amount"`
	NewBalance     decimal.Decimal `json:"new_balance"`
	Tier           LoyaltyTier     `json:"tier"`
	PreviousTier   string          `json:"previous_tier"`
	LeveledUp      bool            `json:"leveled_up"`
	Replayed       bool            `json:"replayed"`
}

type RedeemResult struct {
	Use              ReferralUse   `json:"use"`
	SponsorCredited  bool          `json:"sponsor_credited"`
	ReferredCredited bool          `json:"referred_credited"`
	Duplicate        bool          `json:"duplicate"`
	SponsorCredit    *CreditResult `json:"sponsor_credit,omitempty"`
}

// PlayUsage summarises a user's attempts at one game.
type PlayUsage struct {
	GameID         string       `json:"game_id"`
	UserID         string       `json:"user_id"`
	PlaysUsed      int          `json:"plays_used"`
	PlaysRemaining int          `json:"plays_remaining"`
	Plays          []PlayRecord `json:"plays"`
}

// ReferralStats is a sponsor's code together with every recorded use.
type ReferralStats struct {
	Code ReferralCode  `json:"code"`
	Uses []ReferralUse `json:"uses"`
}

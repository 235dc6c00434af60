package models

import "github.com/shopspring/decimal"

type SubmitPlayRequest struct {
	GameID    string `json:"game_id" binding:"required"`
	RequestID string `json:"request_id" binding:"omitempty,max=128"`
}

type IssueCouponRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	CouponTypeID string `json:"coupon_type_id" binding:"required"`
	Source       string `json:"source" binding:"required,max=64"`
}

type CreditLoyaltyRequest struct {
	UserID         string           `json:"user_id" binding:"required"`
	EventType      LoyaltyEventType `json:"event_type" binding:"required"`
	BaseAmount     decimal.Decimal  `json:"base_amount"`
	Description    string           `json:"description" binding:"max=255"`
	IdempotencyKey string           `json:"idempotency_key" binding:"omitempty,max=128"`
}

type RedeemReferralRequest struct {
	Code           string `json:"code" binding:"required"`
	ReferredUserID string `json:"referred_user_id" binding:"required"`
	OrderID        string `json:"order_id" binding:"required"`
}

package service

import (
	"errors"

	"checkout-service/internal/store"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrNotFound              = store.ErrNotFound
	ErrOutOfStock            = errors.New("out of stock")
	ErrInsufficientStock     = store.ErrInsufficientStock
	ErrInvalidCoupon         = errors.New("invalid coupon")
	ErrCouponExpired         = errors.New("coupon expired")
	ErrUsageLimitReached     = errors.New("coupon usage limit reached")
	ErrMinimumPurchaseNotMet = errors.New("minimum purchase not met")
	ErrCannotCancel          = errors.New("order cannot be cancelled")
	ErrCheckoutInProgress    = errors.New("checkout already in progress")
)

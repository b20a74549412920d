package service

import (
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// EvaluateCoupon returns the discount coupon grants on subtotal at now.
// Checks run in a fixed order and the first failure wins: active, validity
// window, usage limit, minimum purchase. The discount never exceeds subtotal.
func EvaluateCoupon(coupon *models.Coupon, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if coupon == nil || !coupon.IsActive {
		return decimal.Zero, ErrInvalidCoupon
	}

	if now.Before(coupon.ValidFrom) || now.After(coupon.ValidTo) {
		return decimal.Zero, ErrCouponExpired
	}

	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return decimal.Zero, ErrUsageLimitReached
	}

	if subtotal.LessThan(coupon.MinPurchaseAmount) {
		return decimal.Zero, fmt.Errorf("%w: minimum purchase of %s required",
			ErrMinimumPurchaseNotMet, coupon.MinPurchaseAmount.StringFixed(2))
	}

	var discount decimal.Decimal
	switch coupon.DiscountType {
	case models.DiscountPercentage:
		discount = subtotal.Mul(coupon.DiscountValue).Div(hundred)
		if coupon.MaxDiscountAmount != nil && discount.GreaterThan(*coupon.MaxDiscountAmount) {
			discount = *coupon.MaxDiscountAmount
		}
	case models.DiscountFixed:
		discount = coupon.DiscountValue
	default:
		return decimal.Zero, ErrInvalidCoupon
	}

	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	return discount.RoundBank(2), nil
}

// couponRejectionReason is the metric label for a coupon error
func couponRejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrCouponExpired):
		return "expired"
	case errors.Is(err, ErrUsageLimitReached):
		return "usage_limit"
	case errors.Is(err, ErrMinimumPurchaseNotMet):
		return "minimum_purchase"
	default:
		return "invalid"
	}
}

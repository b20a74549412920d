package store

import (
	"context"
	"fmt"

	"checkout-service/internal/models"
)

// GetCouponByCode looks up a coupon case-insensitively
func (r *Repo) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.q.GetContext(ctx, &coupon, "SELECT * FROM coupons WHERE UPPER(code) = UPPER($1)", code)
	if err != nil {
		return nil, notFound(err, "coupon", code)
	}
	return &coupon, nil
}

// LockCouponByCode loads a coupon and holds its row lock so used_count can't race
func (r *Repo) LockCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.q.GetContext(ctx, &coupon,
		"SELECT * FROM coupons WHERE UPPER(code) = UPPER($1) FOR UPDATE", code)
	if err != nil {
		return nil, notFound(err, "coupon", code)
	}
	return &coupon, nil
}

// IncrementCouponUsage bumps used_count unless the usage limit is already reached
func (r *Repo) IncrementCouponUsage(ctx context.Context, couponID int64) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`, couponID)
	if err != nil {
		return fmt.Errorf("failed to increment coupon usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("coupon %d: %w", couponID, ErrCouponExhausted)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Identity is who owns a cart: an authenticated user or an anonymous session
type Identity struct {
	UserID    *int64
	SessionID string
}

func (id Identity) String() string {
	if id.UserID != nil {
		return fmt.Sprintf("user:%d", *id.UserID)
	}
	return "session:" + id.SessionID
}

// CartView is a cart with its derived totals
type CartView struct {
	*models.Cart
	Totals models.CartTotals `json:"totals"`
}

// CouponPreview is the result of trying a coupon against the current cart
type CouponPreview struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount_amount"`
	Total    decimal.Decimal `json:"total"`
}

// CartService handles cart business logic
type CartService struct {
	repo    store.Transactor
	pricing models.Pricing
	now     func() time.Time
	logger  *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(repo store.Transactor, cfg config.BusinessConfig) *CartService {
	return &CartService{
		repo:    repo,
		pricing: pricingFrom(cfg),
		now:     time.Now,
		logger:  util.GetLogger(),
	}
}

// GetCart returns the caller's cart, creating it on first access
func (s *CartService) GetCart(ctx context.Context, id Identity) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart")
	defer span.End()

	cart, err := getOrCreateCart(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, s.repo, cart)
}

// AddItem adds quantity of a product, summing with an existing line
func (s *CartService) AddItem(ctx context.Context, id Identity, productID int64, quantity int) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}

	var view *CartView
	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		product, err := tx.GetProductByID(ctx, productID)
		if err != nil {
			return err
		}
		if !product.IsActive {
			return fmt.Errorf("product %d: %w", productID, ErrNotFound)
		}

		cart, err := getOrCreateCart(ctx, tx, id)
		if err != nil {
			return err
		}

		existing, err := tx.GetCartItemByProduct(ctx, cart.ID, productID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if quantity > product.Stock {
				return outOfStock(product, quantity)
			}
			if _, err := tx.InsertCartItem(ctx, cart.ID, productID, quantity); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			combined := existing.Quantity + quantity
			if combined > product.Stock {
				return outOfStock(product, combined)
			}
			if err := tx.UpdateCartItemQuantity(ctx, existing.ID, combined); err != nil {
				return err
			}
		}

		view, err = s.view(ctx, tx, cart)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Debug("Cart item added",
		zap.String("owner", id.String()),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity))
	return view, nil
}

// UpdateItemQuantity sets a line's quantity
func (s *CartService) UpdateItemQuantity(ctx context.Context, id Identity, itemID int64, quantity int) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItemQuantity")
	defer span.End()

	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}

	var view *CartView
	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		cart, err := getOrCreateCart(ctx, tx, id)
		if err != nil {
			return err
		}

		item, err := tx.GetCartItem(ctx, cart.ID, itemID)
		if err != nil {
			return err
		}
		if quantity > item.Stock {
			return fmt.Errorf("%w: only %d of %s available", ErrOutOfStock, item.Stock, item.ProductName)
		}

		if err := tx.UpdateCartItemQuantity(ctx, item.ID, quantity); err != nil {
			return err
		}

		view, err = s.view(ctx, tx, cart)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return view, nil
}

// RemoveItem deletes a line from the caller's cart
func (s *CartService) RemoveItem(ctx context.Context, id Identity, itemID int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	cart, err := getOrCreateCart(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteCartItem(ctx, cart.ID, itemID); err != nil {
		return nil, err
	}
	return s.view(ctx, s.repo, cart)
}

// Clear empties the caller's cart
func (s *CartService) Clear(ctx context.Context, id Identity) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Clear")
	defer span.End()

	cart, err := getOrCreateCart(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ClearCart(ctx, cart.ID); err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}
	return s.view(ctx, s.repo, cart)
}

// Merge moves a guest session's cart into the user's cart after login.
// Quantities are capped at current stock and the guest cart is deleted.
func (s *CartService) Merge(ctx context.Context, userID int64, sessionID string) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Merge")
	defer span.End()

	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}

	var view *CartView
	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		userCart, err := getOrCreateCart(ctx, tx, Identity{UserID: &userID})
		if err != nil {
			return err
		}

		guestCart, err := tx.GetCartBySession(ctx, sessionID)
		if errors.Is(err, store.ErrNotFound) {
			view, err = s.view(ctx, tx, userCart)
			return err
		}
		if err != nil {
			return err
		}

		guestItems, err := tx.GetCartItems(ctx, guestCart.ID)
		if err != nil {
			return err
		}

		for _, gi := range guestItems {
			existing, err := tx.GetCartItemByProduct(ctx, userCart.ID, gi.ProductID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}

			if existing != nil {
				qty := minInt(existing.Quantity+gi.Quantity, gi.Stock)
				if qty != existing.Quantity && qty > 0 {
					if err := tx.UpdateCartItemQuantity(ctx, existing.ID, qty); err != nil {
						return err
					}
				}
				continue
			}

			qty := minInt(gi.Quantity, gi.Stock)
			if qty < 1 {
				continue
			}
			if _, err := tx.InsertCartItem(ctx, userCart.ID, gi.ProductID, qty); err != nil {
				return err
			}
		}

		if err := tx.DeleteCart(ctx, guestCart.ID); err != nil {
			return err
		}

		s.logger.Info("Guest cart merged",
			zap.Int64("user_id", userID),
			zap.Int("lines", len(guestItems)))

		view, err = s.view(ctx, tx, userCart)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return view, nil
}

// PreviewCoupon evaluates code against the current cart subtotal without
// consuming a use
func (s *CartService) PreviewCoupon(ctx context.Context, id Identity, code string) (*CouponPreview, error) {
	ctx, span := util.StartSpan(ctx, "CartService.PreviewCoupon")
	defer span.End()

	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrValidation)
	}

	cart, err := getOrCreateCart(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	view, err := s.view(ctx, s.repo, cart)
	if err != nil {
		return nil, err
	}

	coupon, err := s.repo.GetCouponByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		coupon, err = nil, nil
	}
	if err != nil {
		return nil, err
	}

	discount, err := EvaluateCoupon(coupon, view.Totals.Subtotal, s.now())
	if err != nil {
		util.CouponRejectionsTotal.WithLabelValues(couponRejectionReason(err)).Inc()
		return nil, err
	}

	return &CouponPreview{
		Code:     coupon.Code,
		Subtotal: view.Totals.Subtotal,
		Discount: discount,
		Total:    view.Totals.Total.Sub(discount),
	}, nil
}

func (s *CartService) view(ctx context.Context, repo store.Repository, cart *models.Cart) (*CartView, error) {
	items, err := repo.GetCartItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	cart.Items = items
	return &CartView{Cart: cart, Totals: cart.Totals(s.pricing)}, nil
}

// getOrCreateCart loads the identity's cart, creating an empty one if needed
func getOrCreateCart(ctx context.Context, repo store.Repository, id Identity) (*models.Cart, error) {
	var (
		cart *models.Cart
		err  error
	)
	switch {
	case id.UserID != nil:
		cart, err = repo.GetCartByUser(ctx, *id.UserID)
	case id.SessionID != "":
		cart, err = repo.GetCartBySession(ctx, id.SessionID)
	default:
		return nil, fmt.Errorf("%w: user or session identity required", ErrValidation)
	}

	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	cart = &models.Cart{UserID: id.UserID}
	if id.UserID == nil {
		sessionID := id.SessionID
		cart.SessionID = &sessionID
	}
	if err := repo.CreateCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return cart, nil
}

func outOfStock(p *models.Product, requested int) error {
	return fmt.Errorf("%w: requested %d of %s, only %d available", ErrOutOfStock, requested, p.Name, p.Stock)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

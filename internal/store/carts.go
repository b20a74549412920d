package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"
)

const cartItemsQuery = `
	SELECT ci.id, ci.cart_id, ci.product_id, ci.quantity,
	       p.name AS product_name, p.sku AS product_sku, p.weight AS product_weight,
	       p.price AS unit_price, p.stock
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id`

// GetCartByUser retrieves the cart owned by a user
func (r *Repo) GetCartByUser(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := r.q.GetContext(ctx, &cart, "SELECT * FROM carts WHERE user_id = $1", userID)
	if err != nil {
		return nil, notFound(err, "cart for user", userID)
	}
	return &cart, nil
}

// GetCartBySession retrieves the cart owned by an anonymous session
func (r *Repo) GetCartBySession(ctx context.Context, sessionID string) (*models.Cart, error) {
	var cart models.Cart
	err := r.q.GetContext(ctx, &cart, "SELECT * FROM carts WHERE session_id = $1", sessionID)
	if err != nil {
		return nil, notFound(err, "cart for session", sessionID)
	}
	return &cart, nil
}

// CreateCart inserts a cart. When a concurrent request already created the
// owner's cart, that cart is loaded into cart instead.
func (r *Repo) CreateCart(ctx context.Context, cart *models.Cart) error {
	query := `
		INSERT INTO carts (user_id, session_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
		RETURNING id, created_at, updated_at`

	err := r.q.QueryRowxContext(ctx, query, cart.UserID, cart.SessionID).
		Scan(&cart.ID, &cart.CreatedAt, &cart.UpdatedAt)
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var existing *models.Cart
	if cart.UserID != nil {
		existing, err = r.GetCartByUser(ctx, *cart.UserID)
	} else if cart.SessionID != nil {
		existing, err = r.GetCartBySession(ctx, *cart.SessionID)
	} else {
		return fmt.Errorf("cart has no owner")
	}
	if err != nil {
		return err
	}
	*cart = *existing
	return nil
}

// DeleteCart removes a cart and, by cascade, its items
func (r *Repo) DeleteCart(ctx context.Context, cartID int64) error {
	_, err := r.q.ExecContext(ctx, "DELETE FROM carts WHERE id = $1", cartID)
	return err
}

// GetCartItems returns the cart lines joined with their live products
func (r *Repo) GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	items := []models.CartItem{}
	err := r.q.SelectContext(ctx, &items, cartItemsQuery+" WHERE ci.cart_id = $1 ORDER BY ci.id", cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}
	return items, nil
}

// GetCartItem retrieves one line of a cart
func (r *Repo) GetCartItem(ctx context.Context, cartID, itemID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := r.q.GetContext(ctx, &item, cartItemsQuery+" WHERE ci.cart_id = $1 AND ci.id = $2", cartID, itemID)
	if err != nil {
		return nil, notFound(err, "cart item", itemID)
	}
	return &item, nil
}

// GetCartItemByProduct retrieves the line holding productID, if any
func (r *Repo) GetCartItemByProduct(ctx context.Context, cartID, productID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := r.q.GetContext(ctx, &item, cartItemsQuery+" WHERE ci.cart_id = $1 AND ci.product_id = $2", cartID, productID)
	if err != nil {
		return nil, notFound(err, "cart item for product", productID)
	}
	return &item, nil
}

// InsertCartItem adds a new line and returns its id
func (r *Repo) InsertCartItem(ctx context.Context, cartID, productID int64, quantity int) (int64, error) {
	query := `
		INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		RETURNING id`

	var id int64
	if err := r.q.GetContext(ctx, &id, query, cartID, productID, quantity); err != nil {
		return 0, fmt.Errorf("failed to insert cart item: %w", err)
	}
	r.touchCart(ctx, cartID)
	return id, nil
}

// UpdateCartItemQuantity sets the quantity of an existing line
func (r *Repo) UpdateCartItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1, updated_at = NOW() WHERE id = $2",
		quantity, itemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cart item %d: %w", itemID, ErrNotFound)
	}
	return nil
}

// DeleteCartItem removes one line of a cart
func (r *Repo) DeleteCartItem(ctx context.Context, cartID, itemID int64) error {
	res, err := r.q.ExecContext(ctx,
		"DELETE FROM cart_items WHERE id = $1 AND cart_id = $2", itemID, cartID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cart item %d: %w", itemID, ErrNotFound)
	}
	r.touchCart(ctx, cartID)
	return nil
}

// ClearCart removes every line of a cart
func (r *Repo) ClearCart(ctx context.Context, cartID int64) error {
	_, err := r.q.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID)
	return err
}

func (r *Repo) touchCart(ctx context.Context, cartID int64) {
	_, _ = r.q.ExecContext(ctx, "UPDATE carts SET updated_at = NOW() WHERE id = $1", cartID)
}

package store

import (
	"context"
	"fmt"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const insertOrderQuery = `
	INSERT INTO orders (
		order_number, user_id,
		shipping_name, shipping_phone, shipping_address_line1, shipping_address_line2,
		shipping_city, shipping_state, shipping_pincode,
		billing_name, billing_phone, billing_address_line1, billing_address_line2,
		billing_city, billing_state, billing_pincode,
		subtotal, tax, shipping_cost, discount_amount, coupon_code, total_amount,
		status, payment_status, customer_notes
	) VALUES (
		:order_number, :user_id,
		:shipping_name, :shipping_phone, :shipping_address_line1, :shipping_address_line2,
		:shipping_city, :shipping_state, :shipping_pincode,
		:billing_name, :billing_phone, :billing_address_line1, :billing_address_line2,
		:billing_city, :billing_state, :billing_pincode,
		:subtotal, :tax, :shipping_cost, :discount_amount, :coupon_code, :total_amount,
		:status, :payment_status, :customer_notes
	)
	RETURNING id, created_at, updated_at`

// CreateOrder inserts the order header. Inside a transaction the insert runs
// under a savepoint so an order number collision leaves the transaction usable
// and the caller can retry with a fresh number.
func (r *Repo) CreateOrder(ctx context.Context, order *models.Order) error {
	query, args, err := sqlx.Named(insertOrderQuery, order)
	if err != nil {
		return fmt.Errorf("failed to bind order: %w", err)
	}
	query = r.q.Rebind(query)

	if r.inTx {
		if _, err := r.q.ExecContext(ctx, "SAVEPOINT create_order"); err != nil {
			return err
		}
	}

	err = r.q.QueryRowxContext(ctx, query, args...).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if r.inTx {
			if _, rbErr := r.q.ExecContext(ctx, "ROLLBACK TO SAVEPOINT create_order"); rbErr != nil {
				return rbErr
			}
		}
		if isUniqueViolation(err, "orders_order_number_key") {
			return fmt.Errorf("order %s: %w", order.OrderNumber, ErrDuplicateOrderNumber)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	if r.inTx {
		if _, err := r.q.ExecContext(ctx, "RELEASE SAVEPOINT create_order"); err != nil {
			return err
		}
	}
	return nil
}

// CreateOrderItem creates a new order item
func (r *Repo) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, product_name, product_sku, product_weight, price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	return r.q.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.ProductName, item.ProductSKU,
		item.ProductWeight, item.Price, item.Quantity)
}

// GetOrderByID retrieves an order by ID
func (r *Repo) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := r.q.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return &order, nil
}

// GetOrderForUser retrieves an order only if userID owns it
func (r *Repo) GetOrderForUser(ctx context.Context, id, userID int64) (*models.Order, error) {
	var order models.Order
	err := r.q.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return &order, nil
}

// LockOrderByID loads an order and holds its row lock
func (r *Repo) LockOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := r.q.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	return &order, nil
}

// LockOrderByGatewayID loads the caller's order for a gateway order id and holds its row lock
func (r *Repo) LockOrderByGatewayID(ctx context.Context, userID int64, gatewayOrderID string) (*models.Order, error) {
	var order models.Order
	err := r.q.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE gateway_order_id = $1 AND user_id = $2 FOR UPDATE",
		gatewayOrderID, userID)
	if err != nil {
		return nil, notFound(err, "order for gateway order", gatewayOrderID)
	}
	return &order, nil
}

// ListOrdersByUser returns a user's orders, newest first
func (r *Repo) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := r.q.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// ListOrders returns all orders for the admin view, optionally filtered by status
func (r *Repo) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	orders := []models.Order{}
	var err error
	if filter.Status != "" {
		err = r.q.SelectContext(ctx, &orders,
			"SELECT * FROM orders WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
			filter.Status, limit, filter.Offset)
	} else {
		err = r.q.SelectContext(ctx, &orders,
			"SELECT * FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2",
			limit, filter.Offset)
	}
	return orders, err
}

// UpdateOrder persists the mutable lifecycle fields of an order
func (r *Repo) UpdateOrder(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders SET
			status = $1, payment_status = $2,
			gateway_order_id = $3, gateway_payment_id = $4, gateway_signature = $5,
			tracking_number = $6, tracking_url = $7, admin_notes = $8,
			shipped_at = $9, delivered_at = $10, updated_at = NOW()
		WHERE id = $11
		RETURNING updated_at`

	err := r.q.GetContext(ctx, &order.UpdatedAt, query,
		order.Status, order.PaymentStatus,
		order.GatewayOrderID, order.GatewayPaymentID, order.GatewaySignature,
		order.TrackingNumber, order.TrackingURL, order.AdminNotes,
		order.ShippedAt, order.DeliveredAt, order.ID)
	if err != nil {
		return notFound(err, "order", order.ID)
	}
	return nil
}

// GetOrderItems retrieves all items for an order
func (r *Repo) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := r.q.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// AddTimelineEntry appends a status history row
func (r *Repo) AddTimelineEntry(ctx context.Context, entry *models.OrderTimeline) error {
	query := `
		INSERT INTO order_timeline (order_id, status, message, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return r.q.QueryRowxContext(ctx, query, entry.OrderID, entry.Status, entry.Message, entry.CreatedBy).
		Scan(&entry.ID, &entry.CreatedAt)
}

// GetTimeline returns an order's history, oldest first
func (r *Repo) GetTimeline(ctx context.Context, orderID int64) ([]models.OrderTimeline, error) {
	entries := []models.OrderTimeline{}
	err := r.q.SelectContext(ctx, &entries,
		"SELECT * FROM order_timeline WHERE order_id = $1 ORDER BY created_at, id", orderID)
	return entries, err
}

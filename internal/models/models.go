package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID        int64           `db:"id" json:"id"`
	SKU       string          `db:"sku" json:"sku"`
	Name      string          `db:"name" json:"name"`
	Weight    string          `db:"weight" json:"weight"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int             `db:"stock" json:"stock"`
	IsActive  bool            `db:"is_active" json:"is_active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Address is a saved shipping/billing address owned by a user
type Address struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	FullName     string    `db:"full_name" json:"full_name"`
	Phone        string    `db:"phone" json:"phone"`
	AddressLine1 string    `db:"address_line1" json:"address_line1"`
	AddressLine2 string    `db:"address_line2" json:"address_line2"`
	City         string    `db:"city" json:"city"`
	State        string    `db:"state" json:"state"`
	Pincode      string    `db:"pincode" json:"pincode"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Cart belongs to exactly one user or one anonymous session
type Cart struct {
	ID        int64      `db:"id" json:"id"`
	UserID    *int64     `db:"user_id" json:"user_id,omitempty"`
	SessionID *string    `db:"session_id" json:"session_id,omitempty"`
	Items     []CartItem `db:"-" json:"items"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// CartItem is one cart line joined with the live product row
type CartItem struct {
	ID          int64           `db:"id" json:"id"`
	CartID      int64           `db:"cart_id" json:"cart_id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	Quantity    int             `db:"quantity" json:"quantity"`
	ProductName string          `db:"product_name" json:"product_name"`
	ProductSKU  string          `db:"product_sku" json:"product_sku"`
	Weight      string          `db:"product_weight" json:"product_weight"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Stock       int             `db:"stock" json:"stock"`
}

// Total returns unit price × quantity
func (ci CartItem) Total() decimal.Decimal {
	return ci.UnitPrice.Mul(decimal.NewFromInt(int64(ci.Quantity)))
}

// Coupon discount types
const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

// Coupon is an admin-managed discount code
type Coupon struct {
	ID                int64            `db:"id" json:"id"`
	Code              string           `db:"code" json:"code"`
	DiscountType      string           `db:"discount_type" json:"discount_type"`
	DiscountValue     decimal.Decimal  `db:"discount_value" json:"discount_value"`
	MaxDiscountAmount *decimal.Decimal `db:"max_discount_amount" json:"max_discount_amount,omitempty"`
	MinPurchaseAmount decimal.Decimal  `db:"min_purchase_amount" json:"min_purchase_amount"`
	ValidFrom         time.Time        `db:"valid_from" json:"valid_from"`
	ValidTo           time.Time        `db:"valid_to" json:"valid_to"`
	IsActive          bool             `db:"is_active" json:"is_active"`
	UsageLimit        *int             `db:"usage_limit" json:"usage_limit,omitempty"`
	UsedCount         int              `db:"used_count" json:"used_count"`
}

// Order is the system of record for a completed checkout.
// Address fields are copies taken at creation time.
type Order struct {
	ID          int64  `db:"id" json:"id"`
	OrderNumber string `db:"order_number" json:"order_number"`
	UserID      int64  `db:"user_id" json:"user_id"`

	ShippingName         string `db:"shipping_name" json:"shipping_name"`
	ShippingPhone        string `db:"shipping_phone" json:"shipping_phone"`
	ShippingAddressLine1 string `db:"shipping_address_line1" json:"shipping_address_line1"`
	ShippingAddressLine2 string `db:"shipping_address_line2" json:"shipping_address_line2"`
	ShippingCity         string `db:"shipping_city" json:"shipping_city"`
	ShippingState        string `db:"shipping_state" json:"shipping_state"`
	ShippingPincode      string `db:"shipping_pincode" json:"shipping_pincode"`

	BillingName         string `db:"billing_name" json:"billing_name"`
	BillingPhone        string `db:"billing_phone" json:"billing_phone"`
	BillingAddressLine1 string `db:"billing_address_line1" json:"billing_address_line1"`
	BillingAddressLine2 string `db:"billing_address_line2" json:"billing_address_line2"`
	BillingCity         string `db:"billing_city" json:"billing_city"`
	BillingState        string `db:"billing_state" json:"billing_state"`
	BillingPincode      string `db:"billing_pincode" json:"billing_pincode"`

	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	Tax            decimal.Decimal `db:"tax" json:"tax"`
	ShippingCost   decimal.Decimal `db:"shipping_cost" json:"shipping_cost"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	CouponCode     *string         `db:"coupon_code" json:"coupon_code"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`

	Status        string `db:"status" json:"status"`
	PaymentStatus string `db:"payment_status" json:"payment_status"`

	GatewayOrderID   *string `db:"gateway_order_id" json:"gateway_order_id,omitempty"`
	GatewayPaymentID *string `db:"gateway_payment_id" json:"gateway_payment_id,omitempty"`
	GatewaySignature *string `db:"gateway_signature" json:"-"`

	TrackingNumber *string `db:"tracking_number" json:"tracking_number"`
	TrackingURL    *string `db:"tracking_url" json:"tracking_url"`
	CustomerNotes  string  `db:"customer_notes" json:"customer_notes"`
	AdminNotes     string  `db:"admin_notes" json:"admin_notes,omitempty"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	ShippedAt   *time.Time `db:"shipped_at" json:"shipped_at"`
	DeliveredAt *time.Time `db:"delivered_at" json:"delivered_at"`

	Items    []OrderItem     `db:"-" json:"items,omitempty"`
	Timeline []OrderTimeline `db:"-" json:"timeline,omitempty"`
}

// CanCancel reports whether the customer may still cancel the order
func (o *Order) CanCancel() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusConfirmed
}

// IsPaid reports whether payment was captured
func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}

// OrderItem is a frozen copy of a cart line; product may be null once deleted
type OrderItem struct {
	ID            int64           `db:"id" json:"id"`
	OrderID       int64           `db:"order_id" json:"order_id"`
	ProductID     *int64          `db:"product_id" json:"product_id"`
	ProductName   string          `db:"product_name" json:"product_name"`
	ProductSKU    string          `db:"product_sku" json:"product_sku"`
	ProductWeight string          `db:"product_weight" json:"product_weight"`
	Price         decimal.Decimal `db:"price" json:"price"`
	Quantity      int             `db:"quantity" json:"quantity"`
}

// Total returns price × quantity
func (oi OrderItem) Total() decimal.Decimal {
	return oi.Price.Mul(decimal.NewFromInt(int64(oi.Quantity)))
}

// OrderTimeline is one append-only status history row
type OrderTimeline struct {
	ID        int64     `db:"id" json:"id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	Status    string    `db:"status" json:"status"`
	Message   string    `db:"message" json:"message"`
	CreatedBy *int64    `db:"created_by" json:"created_by,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
)

// Payment statuses
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// ValidOrderStatus reports whether s is a known order status
func ValidOrderStatus(s string) bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// Email delivery statuses
const (
	EmailStatusPending = "pending"
	EmailStatusSent    = "sent"
	EmailStatusFailed  = "failed"
)

// EmailLog records every transactional email attempt
type EmailLog struct {
	ID             int64      `db:"id" json:"id"`
	EmailType      string     `db:"email_type" json:"email_type"`
	RecipientEmail string     `db:"recipient_email" json:"recipient_email"`
	RecipientName  string     `db:"recipient_name" json:"recipient_name"`
	Subject        string     `db:"subject" json:"subject"`
	ProviderID     *string    `db:"provider_id" json:"provider_id,omitempty"`
	Status         string     `db:"status" json:"status"`
	ErrorMessage   *string    `db:"error_message" json:"error_message,omitempty"`
	UserID         *int64     `db:"user_id" json:"user_id,omitempty"`
	OrderID        *int64     `db:"order_id" json:"order_id,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	SentAt         *time.Time `db:"sent_at" json:"sent_at,omitempty"`
}

// User is the slice of the account record the order workflow needs
type User struct {
	ID        int64  `db:"id" json:"id"`
	Email     string `db:"email" json:"email"`
	FirstName string `db:"first_name" json:"first_name"`
}

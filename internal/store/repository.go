package store

import (
	"context"

	"checkout-service/internal/models"
)

// Repository is the set of queries the checkout workflow runs. It is
// implemented by *Repo for both pooled and transactional use.
type Repository interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	LockProducts(ctx context.Context, ids []int64) (map[int64]*models.Product, error)
	DecrementStock(ctx context.Context, productID int64, quantity int) error
	IncrementStock(ctx context.Context, productID int64, quantity int) error

	GetAddress(ctx context.Context, id, userID int64) (*models.Address, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)

	GetCartByUser(ctx context.Context, userID int64) (*models.Cart, error)
	GetCartBySession(ctx context.Context, sessionID string) (*models.Cart, error)
	CreateCart(ctx context.Context, cart *models.Cart) error
	DeleteCart(ctx context.Context, cartID int64) error
	GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error)
	GetCartItem(ctx context.Context, cartID, itemID int64) (*models.CartItem, error)
	GetCartItemByProduct(ctx context.Context, cartID, productID int64) (*models.CartItem, error)
	InsertCartItem(ctx context.Context, cartID, productID int64, quantity int) (int64, error)
	UpdateCartItemQuantity(ctx context.Context, itemID int64, quantity int) error
	DeleteCartItem(ctx context.Context, cartID, itemID int64) error
	ClearCart(ctx context.Context, cartID int64) error

	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	LockCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	IncrementCouponUsage(ctx context.Context, couponID int64) error

	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderForUser(ctx context.Context, id, userID int64) (*models.Order, error)
	LockOrderByID(ctx context.Context, id int64) (*models.Order, error)
	LockOrderByGatewayID(ctx context.Context, userID int64, gatewayOrderID string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	AddTimelineEntry(ctx context.Context, entry *models.OrderTimeline) error
	GetTimeline(ctx context.Context, orderID int64) ([]models.OrderTimeline, error)

	CreateEmailLog(ctx context.Context, entry *models.EmailLog) error
	UpdateEmailLog(ctx context.Context, entry *models.EmailLog) error
}

// Transactor is a Repository that can also open a transaction
type Transactor interface {
	Repository
	InTx(ctx context.Context, fn func(Repository) error) error
}

// OrderFilter narrows the admin order listing
type OrderFilter struct {
	Status string
	Limit  int
	Offset int
}

var (
	_ Repository = (*Repo)(nil)
	_ Transactor = (*Store)(nil)
)

package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/store"

	"github.com/shopspring/decimal"
)

type cartLine struct {
	ID        int64
	CartID    int64
	ProductID int64
	Quantity  int
}

type memState struct {
	products   map[int64]models.Product
	addresses  map[int64]models.Address
	users      map[int64]models.User
	carts      map[int64]models.Cart
	lines      map[int64]cartLine
	coupons    map[int64]models.Coupon
	orders     map[int64]models.Order
	orderItems map[int64]models.OrderItem
	timeline   []models.OrderTimeline
	emailLogs  []models.EmailLog
	nextID     int64
}

func (s memState) clone() memState {
	c := memState{
		products:   make(map[int64]models.Product, len(s.products)),
		addresses:  make(map[int64]models.Address, len(s.addresses)),
		users:      make(map[int64]models.User, len(s.users)),
		carts:      make(map[int64]models.Cart, len(s.carts)),
		lines:      make(map[int64]cartLine, len(s.lines)),
		coupons:    make(map[int64]models.Coupon, len(s.coupons)),
		orders:     make(map[int64]models.Order, len(s.orders)),
		orderItems: make(map[int64]models.OrderItem, len(s.orderItems)),
		timeline:   append([]models.OrderTimeline(nil), s.timeline...),
		emailLogs:  append([]models.EmailLog(nil), s.emailLogs...),
		nextID:     s.nextID,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.addresses {
		c.addresses[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = v
	}
	for k, v := range s.coupons {
		c.coupons[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.orderItems {
		c.orderItems[k] = v
	}
	return c
}

// memRepo is an in-memory store.Transactor. InTx snapshots state and restores
// it when fn fails.
type memRepo struct {
	memState

	duplicateNumbers int
	failUpdateOrder  error
	txCount          int
}

func newMemRepo() *memRepo {
	return &memRepo{memState: memState{
		products:   map[int64]models.Product{},
		addresses:  map[int64]models.Address{},
		users:      map[int64]models.User{},
		carts:      map[int64]models.Cart{},
		lines:      map[int64]cartLine{},
		coupons:    map[int64]models.Coupon{},
		orders:     map[int64]models.Order{},
		orderItems: map[int64]models.OrderItem{},
		nextID:     100,
	}}
}

var _ store.Transactor = (*memRepo)(nil)

func (m *memRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memRepo) InTx(ctx context.Context, fn func(store.Repository) error) error {
	m.txCount++
	snapshot := m.memState.clone()
	if err := fn(m); err != nil {
		m.memState = snapshot
		return err
	}
	return nil
}

// seed helpers

func (m *memRepo) addProduct(id int64, name, price string, stock int) {
	m.products[id] = models.Product{
		ID: id, SKU: fmt.Sprintf("SKU-%d", id), Name: name, Weight: "250g",
		Price: decimal.RequireFromString(price), Stock: stock, IsActive: true,
	}
}

func (m *memRepo) addAddress(id, userID int64, name string) {
	m.addresses[id] = models.Address{
		ID: id, UserID: userID, FullName: name, Phone: "9876543210",
		AddressLine1: "12 MG Road", City: "Bengaluru", State: "KA", Pincode: "560001",
	}
}

func (m *memRepo) addUserCart(userID int64, lines map[int64]int) int64 {
	cartID := m.id()
	uid := userID
	m.carts[cartID] = models.Cart{ID: cartID, UserID: &uid}
	ids := make([]int64, 0, len(lines))
	for productID := range lines {
		ids = append(ids, productID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, productID := range ids {
		lineID := m.id()
		m.lines[lineID] = cartLine{ID: lineID, CartID: cartID, ProductID: productID, Quantity: lines[productID]}
	}
	return cartID
}

func (m *memRepo) addCoupon(c models.Coupon) {
	if c.ID == 0 {
		c.ID = m.id()
	}
	m.coupons[c.ID] = c
}

func (m *memRepo) timelineFor(orderID int64) []models.OrderTimeline {
	var out []models.OrderTimeline
	for _, e := range m.timeline {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

func (m *memRepo) linesIn(cartID int64) int {
	n := 0
	for _, l := range m.lines {
		if l.CartID == cartID {
			n++
		}
	}
	return n
}

// catalog

func (m *memRepo) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	return &p, nil
}

func (m *memRepo) LockProducts(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	out := map[int64]*models.Product{}
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			p := p
			out[id] = &p
		}
	}
	return out, nil
}

func (m *memRepo) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	p, ok := m.products[productID]
	if !ok || p.Stock < quantity {
		return fmt.Errorf("product %d: %w", productID, store.ErrInsufficientStock)
	}
	p.Stock -= quantity
	m.products[productID] = p
	return nil
}

func (m *memRepo) IncrementStock(ctx context.Context, productID int64, quantity int) error {
	p, ok := m.products[productID]
	if !ok {
		return nil
	}
	p.Stock += quantity
	m.products[productID] = p
	return nil
}

func (m *memRepo) GetAddress(ctx context.Context, id, userID int64) (*models.Address, error) {
	a, ok := m.addresses[id]
	if !ok || a.UserID != userID {
		return nil, fmt.Errorf("address %d: %w", id, store.ErrNotFound)
	}
	return &a, nil
}

func (m *memRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
	}
	return &u, nil
}

// carts

func (m *memRepo) GetCartByUser(ctx context.Context, userID int64) (*models.Cart, error) {
	for _, c := range m.carts {
		if c.UserID != nil && *c.UserID == userID {
			c := c
			return &c, nil
		}
	}
	return nil, fmt.Errorf("cart: %w", store.ErrNotFound)
}

func (m *memRepo) GetCartBySession(ctx context.Context, sessionID string) (*models.Cart, error) {
	for _, c := range m.carts {
		if c.SessionID != nil && *c.SessionID == sessionID {
			c := c
			return &c, nil
		}
	}
	return nil, fmt.Errorf("cart: %w", store.ErrNotFound)
}

func (m *memRepo) CreateCart(ctx context.Context, cart *models.Cart) error {
	cart.ID = m.id()
	cart.CreatedAt = time.Now()
	m.carts[cart.ID] = *cart
	return nil
}

func (m *memRepo) DeleteCart(ctx context.Context, cartID int64) error {
	delete(m.carts, cartID)
	for id, l := range m.lines {
		if l.CartID == cartID {
			delete(m.lines, id)
		}
	}
	return nil
}

func (m *memRepo) joinLine(l cartLine) models.CartItem {
	p := m.products[l.ProductID]
	return models.CartItem{
		ID: l.ID, CartID: l.CartID, ProductID: l.ProductID, Quantity: l.Quantity,
		ProductName: p.Name, ProductSKU: p.SKU, Weight: p.Weight, UnitPrice: p.Price, Stock: p.Stock,
	}
}

func (m *memRepo) GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	items := []models.CartItem{}
	for _, l := range m.lines {
		if l.CartID == cartID {
			items = append(items, m.joinLine(l))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *memRepo) GetCartItem(ctx context.Context, cartID, itemID int64) (*models.CartItem, error) {
	l, ok := m.lines[itemID]
	if !ok || l.CartID != cartID {
		return nil, fmt.Errorf("cart item %d: %w", itemID, store.ErrNotFound)
	}
	item := m.joinLine(l)
	return &item, nil
}

func (m *memRepo) GetCartItemByProduct(ctx context.Context, cartID, productID int64) (*models.CartItem, error) {
	for _, l := range m.lines {
		if l.CartID == cartID && l.ProductID == productID {
			item := m.joinLine(l)
			return &item, nil
		}
	}
	return nil, fmt.Errorf("cart item: %w", store.ErrNotFound)
}

func (m *memRepo) InsertCartItem(ctx context.Context, cartID, productID int64, quantity int) (int64, error) {
	id := m.id()
	m.lines[id] = cartLine{ID: id, CartID: cartID, ProductID: productID, Quantity: quantity}
	return id, nil
}

func (m *memRepo) UpdateCartItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	l, ok := m.lines[itemID]
	if !ok {
		return fmt.Errorf("cart item %d: %w", itemID, store.ErrNotFound)
	}
	l.Quantity = quantity
	m.lines[itemID] = l
	return nil
}

func (m *memRepo) DeleteCartItem(ctx context.Context, cartID, itemID int64) error {
	l, ok := m.lines[itemID]
	if !ok || l.CartID != cartID {
		return fmt.Errorf("cart item %d: %w", itemID, store.ErrNotFound)
	}
	delete(m.lines, itemID)
	return nil
}

func (m *memRepo) ClearCart(ctx context.Context, cartID int64) error {
	for id, l := range m.lines {
		if l.CartID == cartID {
			delete(m.lines, id)
		}
	}
	return nil
}

// coupons

func (m *memRepo) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	for _, c := range m.coupons {
		if strings.EqualFold(c.Code, code) {
			c := c
			return &c, nil
		}
	}
	return nil, fmt.Errorf("coupon %s: %w", code, store.ErrNotFound)
}

func (m *memRepo) LockCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return m.GetCouponByCode(ctx, code)
}

func (m *memRepo) IncrementCouponUsage(ctx context.Context, couponID int64) error {
	c := m.coupons[couponID]
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return store.ErrCouponExhausted
	}
	c.UsedCount++
	m.coupons[couponID] = c
	return nil
}

// orders

func (m *memRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	if m.duplicateNumbers > 0 {
		m.duplicateNumbers--
		return fmt.Errorf("order %s: %w", order.OrderNumber, store.ErrDuplicateOrderNumber)
	}
	for _, o := range m.orders {
		if o.OrderNumber == order.OrderNumber {
			return store.ErrDuplicateOrderNumber
		}
	}
	order.ID = m.id()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	stored := *order
	stored.Items, stored.Timeline = nil, nil
	m.orders[order.ID] = stored
	return nil
}

func (m *memRepo) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	item.ID = m.id()
	m.orderItems[item.ID] = *item
	return nil
}

func (m *memRepo) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	return &o, nil
}

func (m *memRepo) GetOrderForUser(ctx context.Context, id, userID int64) (*models.Order, error) {
	o, ok := m.orders[id]
	if !ok || o.UserID != userID {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	return &o, nil
}

func (m *memRepo) LockOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return m.GetOrderByID(ctx, id)
}

func (m *memRepo) LockOrderByGatewayID(ctx context.Context, userID int64, gatewayOrderID string) (*models.Order, error) {
	for _, o := range m.orders {
		if o.UserID == userID && o.GatewayOrderID != nil && *o.GatewayOrderID == gatewayOrderID {
			o := o
			return &o, nil
		}
	}
	return nil, fmt.Errorf("order: %w", store.ErrNotFound)
}

func (m *memRepo) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	out := []models.Order{}
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memRepo) ListOrders(ctx context.Context, filter store.OrderFilter) ([]models.Order, error) {
	out := []models.Order{}
	for _, o := range m.orders {
		if filter.Status == "" || o.Status == filter.Status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memRepo) UpdateOrder(ctx context.Context, order *models.Order) error {
	if m.failUpdateOrder != nil {
		return m.failUpdateOrder
	}
	if _, ok := m.orders[order.ID]; !ok {
		return fmt.Errorf("order %d: %w", order.ID, store.ErrNotFound)
	}
	stored := *order
	stored.Items, stored.Timeline = nil, nil
	m.orders[order.ID] = stored
	return nil
}

func (m *memRepo) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	out := []models.OrderItem{}
	for _, it := range m.orderItems {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) AddTimelineEntry(ctx context.Context, entry *models.OrderTimeline) error {
	entry.ID = m.id()
	entry.CreatedAt = time.Now()
	m.timeline = append(m.timeline, *entry)
	return nil
}

func (m *memRepo) GetTimeline(ctx context.Context, orderID int64) ([]models.OrderTimeline, error) {
	return m.timelineFor(orderID), nil
}

func (m *memRepo) CreateEmailLog(ctx context.Context, entry *models.EmailLog) error {
	entry.ID = m.id()
	m.emailLogs = append(m.emailLogs, *entry)
	return nil
}

func (m *memRepo) UpdateEmailLog(ctx context.Context, entry *models.EmailLog) error {
	for i := range m.emailLogs {
		if m.emailLogs[i].ID == entry.ID {
			m.emailLogs[i] = *entry
		}
	}
	return nil
}

// recordingNotifier captures post-commit notifications
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(ctx context.Context, kind string, order *models.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, fmt.Sprintf("%s:%d", kind, order.ID))
	return nil
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if strings.HasPrefix(e, kind+":") {
			c++
		}
	}
	return c
}

// gatewayAPI fakes the remote gateway behind a real *payment.Gateway
type gatewayAPI struct {
	orders  int
	refunds []int
	fail    error
}

func (g *gatewayAPI) CreateOrder(data map[string]interface{}) (map[string]interface{}, error) {
	if g.fail != nil {
		return nil, g.fail
	}
	g.orders++
	return map[string]interface{}{"id": fmt.Sprintf("order_gw%d", g.orders), "amount": data["amount"]}, nil
}

func (g *gatewayAPI) FetchPayment(paymentID string) (map[string]interface{}, error) {
	return map[string]interface{}{"id": paymentID, "amount": float64(82364)}, nil
}

func (g *gatewayAPI) Refund(paymentID string, amount int, data map[string]interface{}) (map[string]interface{}, error) {
	if g.fail != nil {
		return nil, g.fail
	}
	g.refunds = append(g.refunds, amount)
	return map[string]interface{}{"id": fmt.Sprintf("rfnd_%d", len(g.refunds)), "amount": float64(amount)}, nil
}

const testSecret = "secret_key"

func newTestGateway(api payment.API) *payment.Gateway {
	return payment.NewGatewayWithAPI(config.PaymentConfig{
		KeyID: "rzp_test", KeySecret: testSecret, Currency: "INR", TimeoutSeconds: 5,
	}, api)
}

func testBusinessConfig() config.BusinessConfig {
	return config.BusinessConfig{
		TaxRate:               decimal.RequireFromString("0.18"),
		FreeShippingThreshold: decimal.NewFromInt(500),
		FlatShippingFee:       decimal.NewFromInt(50),
		OrderNumberPrefix:     "NN",
		CheckoutLockTTL:       30 * time.Second,
		PaymentReplayTTL:      time.Hour,
	}
}

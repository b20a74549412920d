package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound is returned when a requested row doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicateOrderNumber is returned when a generated order number collides
	ErrDuplicateOrderNumber = errors.New("duplicate order number")
	// ErrInsufficientStock is returned when a guarded stock decrement matches no row
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCouponExhausted is returned when a coupon's usage limit was reached
	ErrCouponExhausted = errors.New("coupon usage limit reached")
)

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Repo runs queries against the pool or an open transaction
type Repo struct {
	q    queryer
	inTx bool
}

type Store struct {
	*Repo
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStoreFromDB(db), nil
}

// NewStoreFromDB wraps an existing connection pool
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{Repo: &Repo{q: db}, db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection for readiness probes
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates missing tables and indexes
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// InTx runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(Repository) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Repo{q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
	}
	return false
}

func notFound(err error, what string, id interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
	}
	return err
}

// GetProductByID retrieves a product by ID
func (r *Repo) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := r.q.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	return &product, nil
}

// LockProducts loads products with row locks held until the transaction ends.
// Rows are locked in ascending id order so concurrent checkouts can't deadlock.
func (r *Repo) LockProducts(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	if len(ids) == 0 {
		return map[int64]*models.Product{}, nil
	}

	var products []models.Product
	err := r.q.SelectContext(ctx, &products,
		"SELECT * FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to lock products: %w", err)
	}

	productMap := make(map[int64]*models.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}
	return productMap, nil
}

// DecrementStock removes quantity from a product's stock, refusing to go negative
func (r *Repo) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1",
		quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product %d: %w", productID, ErrInsufficientStock)
	}
	return nil
}

// IncrementStock puts quantity back on a product (cancellation)
func (r *Repo) IncrementStock(ctx context.Context, productID int64, quantity int) error {
	_, err := r.q.ExecContext(ctx,
		"UPDATE products SET stock = stock + $1, updated_at = NOW() WHERE id = $2",
		quantity, productID)
	return err
}

// GetAddress retrieves an address owned by userID
func (r *Repo) GetAddress(ctx context.Context, id, userID int64) (*models.Address, error) {
	var addr models.Address
	err := r.q.GetContext(ctx, &addr,
		"SELECT * FROM addresses WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return nil, notFound(err, "address", id)
	}
	return &addr, nil
}

// GetUserByID retrieves the contact fields of a user
func (r *Repo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := r.q.GetContext(ctx, &user, "SELECT id, email, first_name FROM users WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return &user, nil
}

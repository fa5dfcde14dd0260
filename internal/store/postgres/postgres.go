package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
	db   *sql.DB
	log  zerolog.Logger
}

type Option func(*Store)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New opens a pgx pool and exposes it through database/sql. NUMERIC columns
// are decoded into shopspring decimals on every pooled connection.
func New(ctx context.Context, databaseURL string, maxConns int32, opts ...Option) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 10 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := NewWithDB(stdlib.OpenDBFromPool(pool), opts...)
	s.pool = pool
	return s, nil
}

// NewWithDB wraps an already opened handle. The caller keeps ownership of
// any pool behind db.
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunInTx runs fn in one read-committed transaction. Row locks taken through
// the Tx serialize conflicting writers; nothing is retried.
func (s *Store) RunInTx(ctx context.Context, fn func(store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return domain.Internal("begin tx", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&tx{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == offlineConstraint {
			return domain.Conflict("", "offline id already used")
		}
		return domain.Internal("commit tx", err)
	}
	return nil
}

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, business_id, name, code, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, branch.ID, branch.BusinessID, branch.Name, branch.Code, branch.Active, branch.CreatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return domain.Conflict("", "branch code %s already used", branch.Code)
		}
		return domain.Internal("create branch", err)
	}
	return nil
}

func (s *Store) ListBranches(ctx context.Context, businessID string) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+branchColumns+`
		FROM branches
		WHERE business_id = $1
		ORDER BY code ASC
	`, businessID)
	if err != nil {
		return nil, domain.Internal("list branches", err)
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 8)
	for rows.Next() {
		branch, err := scanBranch(rows)
		if err != nil {
			return nil, domain.Internal("scan branch", err)
		}
		branches = append(branches, branch)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal("list branches", err)
	}
	return branches, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, business_id, name, sku, category, cost_price, sell_price, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, product.ID, product.BusinessID, product.Name, nullIfEmpty(product.SKU), product.Category,
		product.CostPrice, product.SellPrice, product.Status, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return domain.Conflict("", "sku %s already used", product.SKU)
		}
		return domain.Internal("create product", err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, businessID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE business_id = $1
		ORDER BY category ASC, name ASC
	`, businessID)
	if err != nil {
		return nil, domain.Internal("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, domain.Internal("scan product", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal("list products", err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, businessID string, productID string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE business_id = $1 AND id = $2
	`, businessID, productID)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("product %s not found", productID)
		}
		return nil, domain.Internal("get product", err)
	}
	return &product, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.InvalidArgument("username and password are required")
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, business_id, branch_id, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, user.Username, user.BusinessID, nullIfEmpty(user.BranchID), user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return domain.Conflict(user.Username, "user %s already exists", user.Username)
		}
		return domain.Internal("create user", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, business_id, COALESCE(branch_id, ''), password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, domain.Internal("list users", err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.BusinessID, &user.BranchID, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, domain.Internal("scan user", err)
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal("list users", err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.InvalidArgument("username and password are required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return domain.Internal("update user password", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Internal("update user password", err)
	}
	if affected == 0 {
		return domain.NotFound("user %s not found", username)
	}
	return nil
}

const offlineConstraint = "sales_business_offline_key"

// uniqueViolation reports whether err is a 23505 and which constraint fired.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

type stockRow struct {
	qty       int
	updatedAt time.Time
}

type Store struct {
	mu             sync.RWMutex
	branches       map[string]domain.Branch
	products       map[string]domain.Product
	stock          map[domain.StockKey]stockRow
	movements      []domain.StockMovement
	sales          map[string]domain.Sale
	saleByOffline  map[string]string
	returns        map[string]domain.Return
	returnedBySale map[string]map[string]int
	transfers      map[string]domain.StockTransfer
	users          map[string]domain.UserAccount

	locks *lockTable
}

func New() *Store {
	return &Store{
		branches:       make(map[string]domain.Branch),
		products:       make(map[string]domain.Product),
		stock:          make(map[domain.StockKey]stockRow),
		movements:      make([]domain.StockMovement, 0, 256),
		sales:          make(map[string]domain.Sale),
		saleByOffline:  make(map[string]string),
		returns:        make(map[string]domain.Return),
		returnedBySale: make(map[string]map[string]int),
		transfers:      make(map[string]domain.StockTransfer),
		users:          make(map[string]domain.UserAccount),
		locks:          newLockTable(),
	}
}

const (
	DemoBusinessID = "demo-business"
	DemoMainBranch = "br-main"
	DemoEastBranch = "br-east"
)

// NewSeeded returns a store holding one demo business with two branches, a
// few products, opening balances at the main branch and two login accounts.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, b := range []domain.Branch{
		{ID: DemoMainBranch, Name: "Toko Pusat", Code: "MAIN"},
		{ID: DemoEastBranch, Name: "Cabang Timur", Code: "EAST"},
	} {
		b.BusinessID = DemoBusinessID
		b.Active = true
		b.CreatedAt = now
		s.branches[b.ID] = b
	}

	for _, p := range []struct {
		id, name, sku, category string
		cost, sell              string
		opening                 int
	}{
		{"p-mie", "Mie Goreng Instan", "SKU-MIE-01", "grocery", "2.70", "3.50", 120},
		{"p-telur", "Telur 10 Butir", "SKU-TELUR-01", "grocery", "23.00", "26.50", 40},
		{"p-susu", "Susu UHT 1L", "SKU-SUSU-01", "dairy", "13.60", "18.90", 60},
		{"p-kopi", "Kopi Sachet", "SKU-KOPI-01", "beverage", "1.70", "2.60", 200},
	} {
		s.products[p.id] = domain.Product{
			ID:         p.id,
			BusinessID: DemoBusinessID,
			Name:       p.name,
			SKU:        p.sku,
			Category:   p.category,
			CostPrice:  decimal.RequireFromString(p.cost),
			SellPrice:  decimal.RequireFromString(p.sell),
			Status:     domain.ProductStatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		key := domain.StockKey{BusinessID: DemoBusinessID, BranchID: DemoMainBranch, ProductID: p.id}
		s.stock[key] = stockRow{qty: p.opening, updatedAt: now}
		s.movements = append(s.movements, domain.StockMovement{
			ID:         "seed-" + p.id,
			BusinessID: DemoBusinessID,
			BranchID:   DemoMainBranch,
			ProductID:  p.id,
			UserID:     "system",
			Type:       domain.MovementOpeningBalance,
			Quantity:   p.opening,
			Note:       "seed",
			CreatedAt:  now,
		})
	}

	s.users = seedUsers(now)
	return s
}

// seedUsers builds the demo login accounts. Passwords come from
// SEED_OWNER_PASSWORD and SEED_CASHIER_PASSWORD, with dev defaults.
func seedUsers(now time.Time) map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_OWNER_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	users := make(map[string]domain.UserAccount, 2)
	for _, u := range []struct {
		username, password, role, branch string
	}{
		{"owner", ownerPwd, "owner", ""},
		{"cashier", cashierPwd, "cashier", DemoMainBranch},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:   u.username,
			BusinessID: DemoBusinessID,
			BranchID:   u.branch,
			Password:   string(hash),
			Role:       u.role,
			Active:     true,
			CreatedAt:  now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.branches[branch.ID]; exists {
		return domain.Conflict(branch.ID, "branch %s already exists", branch.ID)
	}
	for _, existing := range s.branches {
		if existing.BusinessID == branch.BusinessID && strings.EqualFold(existing.Code, branch.Code) {
			return domain.Conflict(existing.ID, "branch code %s already used", branch.Code)
		}
	}
	s.branches[branch.ID] = branch
	return nil
}

func (s *Store) ListBranches(_ context.Context, businessID string) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branches := make([]domain.Branch, 0, len(s.branches))
	for _, b := range s.branches {
		if b.BusinessID == businessID {
			branches = append(branches, b)
		}
	}
	slices.SortFunc(branches, func(a, b domain.Branch) int { return strings.Compare(a.Code, b.Code) })
	return branches, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return domain.Conflict(product.ID, "product %s already exists", product.ID)
	}
	if product.SKU != "" {
		for _, existing := range s.products {
			if existing.BusinessID == product.BusinessID && existing.SKU == product.SKU {
				return domain.Conflict(existing.ID, "sku %s already used", product.SKU)
			}
		}
	}
	s.products[product.ID] = product
	return nil
}

func (s *Store) ListProducts(_ context.Context, businessID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.BusinessID == businessID {
			products = append(products, p)
		}
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, businessID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[productID]
	if !exists || product.BusinessID != businessID {
		return nil, domain.NotFound("product %s not found", productID)
	}
	return &product, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return domain.Conflict(user.Username, "user %s already exists", user.Username)
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int { return strings.Compare(a.Username, b.Username) })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[username]
	if !exists {
		return domain.NotFound("user %s not found", username)
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func offlineKey(businessID, offlineID string) string {
	return businessID + "\x00" + offlineID
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}

func cloneReturn(src domain.Return) domain.Return {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}

func cloneTransfer(src domain.StockTransfer) domain.StockTransfer {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}

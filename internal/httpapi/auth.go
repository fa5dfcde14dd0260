package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"tokoledger/backend/internal/domain"
)

const (
	RoleOwner   = "owner"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

var errInvalidCredentials = errors.New("invalid credentials")

type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	users     map[string]credential
	log       zerolog.Logger
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	password   string
	role       string
	businessID string
	branchID   string
	active     bool
}

type ledgerClaims struct {
	jwtlib.RegisteredClaims
	Role       string `json:"role"`
	BusinessID string `json:"business_id"`
	BranchID   string `json:"branch_id,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore, log zerolog.Logger) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     make(map[string]credential),
		log:       log.With().Str("component", "auth").Logger(),
	}
}

// Login reloads accounts from the user store, so users added by another
// instance can sign in without a restart.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok || !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		BusinessID:  cred.businessID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &ledgerClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	if claims.BusinessID == "" {
		return domain.Actor{}, errors.New("token carries no business")
	}
	return domain.Actor{
		UserID:     sub,
		BusinessID: claims.BusinessID,
		BranchID:   claims.BranchID,
		Role:       claims.Role,
	}, nil
}

func (a *AuthManager) sign(username string, cred credential, expiresAt time.Time) (string, error) {
	claims := ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "tokoledger",
		},
		Role:       cred.role,
		BusinessID: cred.businessID,
		BranchID:   cred.branchID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// bootstrapUsers refreshes the credential cache from the user store and
// rewrites any plain-text password it finds as a bcrypt hash.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}
	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("load users failed, using cached credentials")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err != nil {
				continue
			}
			password = hashed
			if err := a.userStore.UpdateUserPassword(ctx, username, hashed); err != nil {
				a.log.Warn().Err(err).Str("username", username).Msg("upgrade legacy password failed")
			}
		}
		a.users[username] = credential{
			password:   password,
			role:       user.Role,
			businessID: user.BusinessID,
			branchID:   user.BranchID,
			active:     user.Active,
		}
	}
}

// CreateUser adds a staff account to the caller's business. Owners are only
// created through EnsureOwner.
func (a *AuthManager) CreateUser(ctx context.Context, businessID string, req domain.CreateUserRequest) (domain.UserAccount, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	role := strings.ToLower(strings.TrimSpace(req.Role))
	switch {
	case len(username) < 4:
		return domain.UserAccount{}, domain.InvalidArgument("username must be at least 4 characters")
	case strings.ContainsAny(username, " \t\r\n"):
		return domain.UserAccount{}, domain.InvalidArgument("username must not contain spaces")
	case len(req.Password) < 8:
		return domain.UserAccount{}, domain.InvalidArgument("password must be at least 8 characters")
	case role != RoleManager && role != RoleCashier:
		return domain.UserAccount{}, domain.InvalidArgument("role must be manager or cashier")
	}
	return a.addUser(ctx, domain.UserAccount{
		Username:   username,
		BusinessID: businessID,
		BranchID:   strings.TrimSpace(req.BranchID),
		Password:   req.Password,
		Role:       role,
		Active:     true,
	})
}

// EnsureOwner creates the owner account of a business unless a user with
// that name already exists.
func (a *AuthManager) EnsureOwner(ctx context.Context, businessID, username, password string) error {
	a.bootstrapUsers(ctx)
	username = strings.ToLower(strings.TrimSpace(username))
	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return nil
	}
	_, err := a.addUser(ctx, domain.UserAccount{
		Username:   username,
		BusinessID: businessID,
		Password:   password,
		Role:       RoleOwner,
		Active:     true,
	})
	return err
}

func (a *AuthManager) addUser(ctx context.Context, user domain.UserAccount) (domain.UserAccount, error) {
	if a.userStore == nil {
		return domain.UserAccount{}, errors.New("no user store configured")
	}
	hash, err := hashPassword(user.Password)
	if err != nil {
		return domain.UserAccount{}, domain.Internal("hash password", err)
	}
	user.Password = hash
	user.CreatedAt = time.Now().UTC()
	if err := a.userStore.CreateUser(ctx, user); err != nil {
		return domain.UserAccount{}, err
	}

	a.mu.Lock()
	a.users[user.Username] = credential{
		password:   hash,
		role:       user.Role,
		businessID: user.BusinessID,
		branchID:   user.BranchID,
		active:     true,
	}
	a.mu.Unlock()
	return user, nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

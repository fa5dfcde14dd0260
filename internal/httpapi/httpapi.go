package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/ratelimit"
	"tokoledger/backend/internal/service"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *ratelimit.Limiter
	throttle      *ratelimit.Throttle
	log           zerolog.Logger
}

type Option func(*API)

func WithLogger(l zerolog.Logger) Option {
	return func(a *API) { a.log = l.With().Str("component", "http").Logger() }
}

// WithLoginLimiter replaces the default in-process login limiter, typically
// with one backed by ratelimit.RedisStore.
func WithLoginLimiter(l *ratelimit.Limiter) Option {
	return func(a *API) {
		if l != nil {
			a.loginLimiter = l
		}
	}
}

// WithThrottle enables per-client request throttling. A nil throttle
// disables it.
func WithThrottle(t *ratelimit.Throttle) Option {
	return func(a *API) { a.throttle = t }
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, opts ...Option) *API {
	a := &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  ratelimit.New(ratelimit.NewMemoryStore(), 5, time.Minute),
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

var (
	anyRole      = []string{RoleOwner, RoleManager, RoleCashier}
	managerRoles = []string{RoleOwner, RoleManager}
)

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("POST /api/v1/users", a.requireAuth(a.handleCreateUser, RoleOwner))

	mux.HandleFunc("GET /api/v1/branches", a.requireAuth(a.handleListBranches, anyRole...))
	mux.HandleFunc("POST /api/v1/branches", a.requireAuth(a.handleCreateBranch, managerRoles...))
	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, anyRole...))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, managerRoles...))
	mux.HandleFunc("GET /api/v1/products/{id}", a.requireAuth(a.handleGetProduct, anyRole...))

	mux.HandleFunc("GET /api/v1/stock", a.requireAuth(a.handleListStock, anyRole...))
	mux.HandleFunc("GET /api/v1/stock/movements", a.requireAuth(a.handleListMovements, anyRole...))
	mux.HandleFunc("POST /api/v1/stock/adjustments", a.requireAuth(a.handleAdjustStock, managerRoles...))

	mux.HandleFunc("GET /api/v1/sales", a.requireAuth(a.handleListSales, anyRole...))
	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleCreateSale, anyRole...))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, anyRole...))
	mux.HandleFunc("POST /api/v1/sync/offline-sales", a.requireAuth(a.handleOfflineSync, anyRole...))

	mux.HandleFunc("GET /api/v1/returns", a.requireAuth(a.handleListReturns, anyRole...))
	mux.HandleFunc("POST /api/v1/returns", a.requireAuth(a.handleCreateReturn, anyRole...))
	mux.HandleFunc("GET /api/v1/returns/{id}", a.requireAuth(a.handleGetReturn, anyRole...))

	mux.HandleFunc("GET /api/v1/transfers", a.requireAuth(a.handleListTransfers, anyRole...))
	mux.HandleFunc("POST /api/v1/transfers", a.requireAuth(a.handleCreateTransfer, managerRoles...))
	mux.HandleFunc("GET /api/v1/transfers/{id}", a.requireAuth(a.handleGetTransfer, anyRole...))
	mux.HandleFunc("PATCH /api/v1/transfers/{id}/status", a.requireAuth(a.handleUpdateTransferStatus, managerRoles...))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func actorFrom(r *http.Request) domain.Actor {
	actor, _ := service.ActorFromContext(r.Context())
	return actor
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	key := "login:" + clientKey(r)
	allowed, err := a.loginLimiter.Allow(r.Context(), key)
	if err != nil {
		a.log.Warn().Err(err).Msg("login rate limit store unavailable")
	}
	if !allowed {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if err := a.loginLimiter.Reset(r.Context(), key); err != nil {
		a.log.Warn().Err(err).Msg("reset login attempts failed")
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if r.URL.Path != "/healthz" && !a.throttle.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many requests"))
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(startedAt)).
			Msg("request")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusForKind maps ledger error kinds onto HTTP statuses.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindConflict, domain.KindInsufficientStock:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusForKind(domain.KindOf(err))
	if id := domain.ConflictID(err); id != "" {
		writeJSON(w, status, map[string]any{
			"error":       err.Error(),
			"existing_id": id,
		})
		return
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies never carry the underlying error.
	msg := err.Error()
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package httpapi

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"tokoledger/backend/internal/domain"
)

var errBranchForbidden = errors.New("cashier is not assigned to this branch")

// scopeBranch fills an empty branch from the token and keeps branch-bound
// cashiers on their own branch.
func scopeBranch(actor domain.Actor, branchID string) (string, error) {
	branchID = strings.TrimSpace(branchID)
	if branchID == "" {
		branchID = actor.BranchID
	}
	if actor.Role == RoleCashier && actor.BranchID != "" && branchID != actor.BranchID {
		return "", errBranchForbidden
	}
	return branchID, nil
}

// confinedBranch is the only branch a cashier bound to one may touch, or ""
// when the actor is not confined.
func confinedBranch(actor domain.Actor) string {
	if actor.Role == RoleCashier {
		return actor.BranchID
	}
	return ""
}

// visibleTo reports whether a record held at any of branchIDs may be read
// by actor.
func visibleTo(actor domain.Actor, branchIDs ...string) bool {
	confined := confinedBranch(actor)
	return confined == "" || slices.Contains(branchIDs, confined)
}

// parseListFilter reads the shared list query parameters. A confined cashier
// always lists their own branch; asking for another one is forbidden.
func parseListFilter(r *http.Request, actor domain.Actor) (domain.ListFilter, error) {
	q := r.URL.Query()
	filter := domain.ListFilter{
		BusinessID: actor.BusinessID,
		BranchID:   strings.TrimSpace(q.Get("branch_id")),
		SaleID:     strings.TrimSpace(q.Get("sale_id")),
		ProductID:  strings.TrimSpace(q.Get("product_id")),
		Status:     domain.TransferStatus(strings.TrimSpace(q.Get("status"))),
		Type:       domain.MovementType(strings.TrimSpace(q.Get("type"))),
		Limit:      parsePositiveLimit(q.Get("limit"), domain.DefaultPageSize, domain.MaxPageSize),
	}
	if raw := strings.TrimSpace(q.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, domain.InvalidArgument("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	for _, bound := range []struct {
		name string
		dest **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := strings.TrimSpace(q.Get(bound.name))
		if raw == "" {
			continue
		}
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, domain.InvalidArgument("%s must be an RFC3339 timestamp", bound.name)
		}
		at = at.UTC()
		*bound.dest = &at
	}
	if confined := confinedBranch(actor); confined != "" {
		if filter.BranchID != "" && filter.BranchID != confined {
			return filter, errBranchForbidden
		}
		filter.BranchID = confined
	}
	return filter, nil
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	businessID := actorFrom(r).BusinessID
	if branchID := strings.TrimSpace(req.BranchID); branchID != "" {
		branches, err := a.service.ListBranches(r.Context(), businessID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if !slices.ContainsFunc(branches, func(b domain.Branch) bool { return b.ID == branchID }) {
			writeServiceError(w, domain.NotFound("branch %s not found", branchID))
			return
		}
	}
	user, err := a.auth.CreateUser(r.Context(), businessID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := a.service.ListBranches(r.Context(), actorFrom(r).BusinessID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

func (a *API) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var cmd domain.CreateBranchCommand
	if err := decodeJSON(r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cmd.BusinessID = actorFrom(r).BusinessID

	branch, err := a.service.CreateBranch(r.Context(), cmd)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"branch": branch})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context(), actorFrom(r).BusinessID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var cmd domain.CreateProductCommand
	if err := decodeJSON(r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cmd.BusinessID = actorFrom(r).BusinessID

	product, err := a.service.CreateProduct(r.Context(), cmd)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), actorFrom(r).BusinessID, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleListStock(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r, actorFrom(r))
	if err != nil {
		writeFilterError(w, err)
		return
	}
	levels, err := a.service.ListStockLevels(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": levels})
}

func (a *API) handleListMovements(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r, actorFrom(r))
	if err != nil {
		writeFilterError(w, err)
		return
	}
	movements, err := a.service.ListMovements(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var cmd domain.AdjustStockCommand
	if err := decodeJSON(r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor := actorFrom(r)
	cmd.BusinessID = actor.BusinessID
	cmd.UserID = actor.UserID

	level, err := a.service.AdjustStock(r.Context(), cmd)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"stock": level})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r, actorFrom(r))
	if err != nil {
		writeFilterError(w, err)
		return
	}
	sales, err := a.service.ListSales(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var cmd domain.CreateSaleCommand
	if err := decodeJSON(r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor := actorFrom(r)
	branchID, err := scopeBranch(actor, cmd.BranchID)
	if err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	cmd.BranchID = branchID
	cmd.BusinessID = actor.BusinessID
	cmd.UserID = actor.UserID

	sale, err := a.service.CreateSale(r.Context(), cmd)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	sale, err := a.service.GetSale(r.Context(), actor.BusinessID, r.PathValue("id"))
	if err == nil && !visibleTo(actor, sale.BranchID) {
		err = domain.NotFound("sale %s not found", sale.ID)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleOfflineSync(w http.ResponseWriter, r *http.Request) {
	var cmd domain.OfflineSyncCommand
	if err := decodeJSON(r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor := actorFrom(r)
	branchID, err := scopeBranch(actor, cmd.BranchID)
	if err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	for i := range cmd.Sales {
		if cmd.Sales[i].Sale.BranchID == "" {
			continue
		}
		if _, err := scopeBranch(actor, cmd.Sales[i].Sale.BranchID); err != nil {
			writeError(w, http.StatusForbidden, err)
			return
		}
	}
	cmd.BranchID = branchID
	cmd.BusinessID = actor.BusinessID
	cmd.UserID = actor.UserID

	result, err := a.service.SyncOfflineSales(r.Context(), cmd)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleListReturns(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r, actorFrom(r))
	if err != nil {
		writeFilterError(w, err)
		return
	}
	returns, err := a.service.ListReturns(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returns": returns})
}

func (a *API) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	var cmd domain.CreateReturnCommand
	if err := decodeJSON(r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor := actorFrom(r)
	cmd.BusinessID = actor.BusinessID
	cmd.UserID = actor.UserID
	if confined := confinedBranch(actor); confined != "" {
		if strings.TrimSpace(cmd.BranchID) != "" && strings.TrimSpace(cmd.BranchID) != confined {
			writeError(w, http.StatusForbidden, errBranchForbidden)
			return
		}
		if strings.TrimSpace(cmd.SaleID) != "" {
			sale, err := a.service.GetSale(r.Context(), actor.BusinessID, cmd.SaleID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			if sale.BranchID != confined {
				writeError(w, http.StatusForbidden, errBranchForbidden)
				return
			}
		}
		cmd.BranchID = confined
	}

	ret, err := a.service.CreateReturn(r.Context(), cmd)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"return": ret})
}

func (a *API) handleGetReturn(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	ret, err := a.service.GetReturn(r.Context(), actor.BusinessID, r.PathValue("id"))
	if err == nil && !visibleTo(actor, ret.BranchID) {
		err = domain.NotFound("return %s not found", ret.ID)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"return": ret})
}

func (a *API) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r, actorFrom(r))
	if err != nil {
		writeFilterError(w, err)
		return
	}
	transfers, err := a.service.ListStockTransfers(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

func (a *API) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var cmd domain.CreateTransferCommand
	if err := decodeJSON(r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor := actorFrom(r)
	cmd.BusinessID = actor.BusinessID
	cmd.UserID = actor.UserID

	transfer, err := a.service.CreateStockTransfer(r.Context(), cmd)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transfer": transfer})
}

func (a *API) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	transfer, err := a.service.GetStockTransfer(r.Context(), actor.BusinessID, r.PathValue("id"))
	if err == nil && !visibleTo(actor, transfer.FromBranchID, transfer.ToBranchID) {
		err = domain.NotFound("stock transfer %s not found", transfer.ID)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfer": transfer})
}

func writeFilterError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBranchForbidden) {
		writeError(w, http.StatusForbidden, err)
		return
	}
	writeServiceError(w, err)
}

type transferStatusRequest struct {
	Status string `json:"status"`
}

func (a *API) handleUpdateTransferStatus(w http.ResponseWriter, r *http.Request) {
	var req transferStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	transfer, err := a.service.UpdateStockTransferStatus(r.Context(), actorFrom(r).BusinessID, r.PathValue("id"), req.Status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfer": transfer})
}

package service

import (
	"context"
	"strings"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/xid"
)

func (s *Service) CreateBranch(ctx context.Context, cmd domain.CreateBranchCommand) (*domain.Branch, error) {
	if err := requireBusiness(cmd.BusinessID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(cmd.Name)
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if name == "" || code == "" {
		return nil, domain.InvalidArgument("branch name and code are required")
	}

	branch := domain.Branch{
		ID:         xid.New(),
		BusinessID: cmd.BusinessID,
		Name:       name,
		Code:       code,
		Active:     true,
		CreatedAt:  s.now(),
	}
	if err := s.repo.CreateBranch(ctx, branch); err != nil {
		return nil, domain.Internal("create branch", err)
	}
	s.logAudit(ctx, "branch_create", "branch", branch.ID).Str("code", code).Msg("branch created")
	return &branch, nil
}

func (s *Service) ListBranches(ctx context.Context, businessID string) ([]domain.Branch, error) {
	if err := requireBusiness(businessID); err != nil {
		return nil, err
	}
	branches, err := s.repo.ListBranches(ctx, businessID)
	if err != nil {
		return nil, domain.Internal("list branches", err)
	}
	return branches, nil
}

func (s *Service) CreateProduct(ctx context.Context, cmd domain.CreateProductCommand) (*domain.Product, error) {
	if err := requireBusiness(cmd.BusinessID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(cmd.Name)
	category := strings.ToLower(strings.TrimSpace(cmd.Category))
	if name == "" {
		return nil, domain.InvalidArgument("product name is required")
	}
	if category == "" {
		category = "general"
	}
	if cmd.CostPrice.IsNegative() || cmd.SellPrice.IsNegative() {
		return nil, domain.InvalidArgument("prices must not be negative")
	}

	now := s.now()
	product := domain.Product{
		ID:         xid.New(),
		BusinessID: cmd.BusinessID,
		Name:       name,
		SKU:        strings.ToUpper(strings.TrimSpace(cmd.SKU)),
		Category:   category,
		CostPrice:  domain.RoundMoney(cmd.CostPrice),
		SellPrice:  domain.RoundMoney(cmd.SellPrice),
		Status:     domain.ProductStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateProduct(ctx, product); err != nil {
		return nil, domain.Internal("create product", err)
	}
	s.logAudit(ctx, "product_create", "product", product.ID).Str("sku", product.SKU).Msg("product created")
	return &product, nil
}

func (s *Service) ListProducts(ctx context.Context, businessID string) ([]domain.Product, error) {
	if err := requireBusiness(businessID); err != nil {
		return nil, err
	}
	products, err := s.repo.ListProducts(ctx, businessID)
	if err != nil {
		return nil, domain.Internal("list products", err)
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, businessID string, productID string) (*domain.Product, error) {
	if err := requireBusiness(businessID); err != nil {
		return nil, err
	}
	product, err := s.repo.GetProduct(ctx, businessID, strings.TrimSpace(productID))
	if err != nil {
		return nil, domain.Internal("get product", err)
	}
	return product, nil
}

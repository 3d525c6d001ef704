package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tant/service-center-backend/pkg/db"
	"github.com/tant/service-center-backend/pkg/db/models"
	"github.com/tant/service-center-backend/pkg/enums"
	pkgerrors "github.com/tant/service-center-backend/pkg/errors"
)

// Service resolves warehouses and their type tags for invariant checks.
type Service interface {
	CreateWarehouse(ctx context.Context, input CreateWarehouseInput) (*models.Warehouse, error)
	GetWarehouse(ctx context.Context, id uuid.UUID) (*models.Warehouse, error)
	ListWarehouses(ctx context.Context) ([]models.Warehouse, error)
	ResolveType(ctx context.Context, id uuid.UUID) (enums.WarehouseType, error)
}

// CreateWarehouseInput holds the validated payload to create a warehouse.
type CreateWarehouseInput struct {
	Name string
	Code string
	Type enums.WarehouseType
}

type service struct {
	repo *Repository
}

// NewService constructs a warehouse service instance.
func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("warehouse repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) CreateWarehouse(ctx context.Context, input CreateWarehouseInput) (*models.Warehouse, error) {
	name := strings.TrimSpace(input.Name)
	code := strings.TrimSpace(input.Code)
	if name == "" || code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "warehouse name and code are required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid warehouse type")
	}

	existing, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup warehouse code")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "warehouse code already in use")
	}

	warehouse := &models.Warehouse{
		ID:   uuid.New(),
		Name: name,
		Code: code,
		Type: input.Type,
	}
	if err := s.repo.Create(ctx, warehouse); err != nil {
		if db.IsUniqueViolation(err, "ux_warehouses_code") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "warehouse code already in use")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create warehouse")
	}
	return warehouse, nil
}

func (s *service) GetWarehouse(ctx context.Context, id uuid.UUID) (*models.Warehouse, error) {
	warehouse, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load warehouse")
	}
	if warehouse == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "warehouse not found")
	}
	return warehouse, nil
}

func (s *service) ListWarehouses(ctx context.Context) ([]models.Warehouse, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list warehouses")
	}
	return rows, nil
}

func (s *service) ResolveType(ctx context.Context, id uuid.UUID) (enums.WarehouseType, error) {
	warehouse, err := s.GetWarehouse(ctx, id)
	if err != nil {
		return "", err
	}
	return warehouse.Type, nil
}

// Package dashboard implements the farmer workspace: own listings, farm
// profile, crop calendar and incoming orders.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/model"
)

// Common errors.
var (
	ErrNotFarmer    = errors.New("farmer role required")
	ErrEmptyPatch   = errors.New("no profile fields to update")
	ErrInvalidPatch = errors.New("invalid profile fields")
)

// Backend is the set of marketplace operations the dashboard uses.
type Backend interface {
	ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error)
	CreateProduct(ctx context.Context, input model.ProductInput) (*model.Product, error)
	UpdateProduct(ctx context.Context, id model.ID, input model.ProductInput) (*model.Product, error)
	DeleteProduct(ctx context.Context, id model.ID) error
	ListOrders(ctx context.Context) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, id model.ID, status model.OrderStatus) error
	GetProfile(ctx context.Context) (*model.Profile, error)
	UpdateProfile(ctx context.Context, profile model.Profile) (*model.Profile, error)
	PatchProfile(ctx context.Context, fields map[string]any) (*model.Profile, error)
	ListCropPlans(ctx context.Context) ([]model.CropPlan, error)
	CreateCropPlan(ctx context.Context, input model.CropPlanInput) (*model.CropPlan, error)
}

// Roles tells whether the current session is a farmer's.
type Roles interface {
	IsFarmer() bool
}

// PlanView is a crop plan with the days remaining until harvest.
type PlanView struct {
	model.CropPlan
	DaysLeft int `json:"days_left"`
}

// Overview is everything the dashboard shows at once.
type Overview struct {
	Products      []model.Product `json:"products"`
	Profile       *model.Profile  `json:"profile"`
	CropPlans     []PlanView      `json:"crop_plans"`
	Orders        []model.Order   `json:"orders"`
	PendingOrders int             `json:"pending_orders"`
}

// Service runs dashboard operations for the logged-in farmer.
type Service struct {
	backend Backend
	roles   Roles
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a new dashboard Service.
func NewService(backend Backend, roles Roles, logger *zap.Logger) *Service {
	return &Service{
		backend: backend,
		roles:   roles,
		logger:  logger,
		now:     time.Now,
	}
}

// Load fetches the overview. The four reads run concurrently and the first
// failure cancels the others.
func (s *Service) Load(ctx context.Context) (*Overview, error) {
	if err := s.requireFarmer(); err != nil {
		return nil, err
	}

	var (
		overview Overview
		plans    []model.CropPlan
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		products, err := s.backend.ListProducts(gctx, model.ProductFilter{Role: model.RoleFarmer})
		if err != nil {
			return fmt.Errorf("loading products: %w", err)
		}
		overview.Products = products
		return nil
	})

	g.Go(func() error {
		profile, err := s.backend.GetProfile(gctx)
		if err != nil {
			return fmt.Errorf("loading profile: %w", err)
		}
		overview.Profile = profile
		return nil
	})

	g.Go(func() error {
		var err error
		plans, err = s.backend.ListCropPlans(gctx)
		if err != nil {
			return fmt.Errorf("loading crop plans: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		orders, err := s.backend.ListOrders(gctx)
		if err != nil {
			return fmt.Errorf("loading orders: %w", err)
		}
		overview.Orders = orders
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Warn("failed to load dashboard", zap.Error(err))
		return nil, err
	}

	overview.CropPlans = s.planViews(plans)

	for _, order := range overview.Orders {
		if order.Status == model.OrderStatusPending {
			overview.PendingOrders++
		}
	}

	return &overview, nil
}

// SaveProduct creates a listing when id is empty and replaces it otherwise.
func (s *Service) SaveProduct(ctx context.Context, id model.ID, input model.ProductInput) (*model.Product, error) {
	if err := s.requireFarmer(); err != nil {
		return nil, err
	}

	if err := input.Validate(); err != nil {
		return nil, err
	}

	if id.IsZero() {
		p, err := s.backend.CreateProduct(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("creating product: %w", err)
		}
		s.logger.Info("product created", zap.String("product_id", p.ID.String()))
		return p, nil
	}

	p, err := s.backend.UpdateProduct(ctx, id, input)
	if err != nil {
		return nil, fmt.Errorf("updating product %s: %w", id, err)
	}
	s.logger.Info("product updated", zap.String("product_id", id.String()))
	return p, nil
}

// DeleteProduct removes a listing.
func (s *Service) DeleteProduct(ctx context.Context, id model.ID) error {
	if err := s.requireFarmer(); err != nil {
		return err
	}

	if err := s.backend.DeleteProduct(ctx, id); err != nil {
		return fmt.Errorf("deleting product %s: %w", id, err)
	}

	s.logger.Info("product deleted", zap.String("product_id", id.String()))
	return nil
}

// UpdateProfile replaces the farm profile.
func (s *Service) UpdateProfile(ctx context.Context, profile model.Profile) (*model.Profile, error) {
	if err := s.requireFarmer(); err != nil {
		return nil, err
	}

	if err := profile.Validate(); err != nil {
		return nil, err
	}

	updated, err := s.backend.UpdateProfile(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	return updated, nil
}

// PatchProfile changes only the given profile fields. Known fields are
// validated the same way as a full update.
func (s *Service) PatchProfile(ctx context.Context, fields map[string]any) (*model.Profile, error) {
	if err := s.requireFarmer(); err != nil {
		return nil, err
	}

	if err := validateProfileFields(fields); err != nil {
		return nil, err
	}

	updated, err := s.backend.PatchProfile(ctx, fields)
	if err != nil {
		return nil, fmt.Errorf("patching profile: %w", err)
	}
	return updated, nil
}

// CropPlans returns the farmer's crop plans with days left until harvest.
func (s *Service) CropPlans(ctx context.Context) ([]PlanView, error) {
	if err := s.requireFarmer(); err != nil {
		return nil, err
	}

	plans, err := s.backend.ListCropPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading crop plans: %w", err)
	}

	return s.planViews(plans), nil
}

// AddCropPlan schedules a planting. The volume estimate comes back from the
// marketplace.
func (s *Service) AddCropPlan(ctx context.Context, input model.CropPlanInput) (*PlanView, error) {
	if err := s.requireFarmer(); err != nil {
		return nil, err
	}

	if err := input.Validate(); err != nil {
		return nil, err
	}

	plan, err := s.backend.CreateCropPlan(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("creating crop plan: %w", err)
	}

	return &PlanView{CropPlan: *plan, DaysLeft: plan.DaysUntilHarvest(s.now())}, nil
}

// SetOrderStatus moves an incoming order to status.
func (s *Service) SetOrderStatus(ctx context.Context, id model.ID, status model.OrderStatus) error {
	if err := s.requireFarmer(); err != nil {
		return err
	}

	if !status.Valid() {
		return model.ErrInvalidStatus
	}

	if err := s.backend.UpdateOrderStatus(ctx, id, status); err != nil {
		return fmt.Errorf("updating order %s: %w", id, err)
	}

	s.logger.Info("order status updated",
		zap.String("order_id", id.String()),
		zap.String("status", string(status)),
	)
	return nil
}

func (s *Service) planViews(plans []model.CropPlan) []PlanView {
	now := s.now()
	views := make([]PlanView, 0, len(plans))
	for _, plan := range plans {
		views = append(views, PlanView{CropPlan: plan, DaysLeft: plan.DaysUntilHarvest(now)})
	}
	return views
}

// validateProfileFields checks the fields a partial update may carry by
// decoding them into a Profile.
func validateProfileFields(fields map[string]any) error {
	if len(fields) == 0 {
		return ErrEmptyPatch
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding profile fields: %w", err)
	}

	var p model.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}

	return p.Validate()
}

func (s *Service) requireFarmer() error {
	if !s.roles.IsFarmer() {
		return ErrNotFarmer
	}
	return nil
}

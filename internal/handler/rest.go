package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/cart"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/catalog"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/checkout"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/client"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/dashboard"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/middleware"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/model"
	"github.com/vyrodovalexey/agriconnect-gateway/internal/session"
)

// Backend is the subset of marketplace calls made directly by handlers.
type Backend interface {
	Login(ctx context.Context, creds model.Credentials) (*model.LoginResult, error)
	Signup(ctx context.Context, req model.SignupRequest) (*model.User, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	DownloadInvoice(ctx context.Context, id model.ID) (*client.Invoice, error)
	GetProfile(ctx context.Context) (*model.Profile, error)
}

// Session is the marketplace session as seen by handlers.
type Session interface {
	Token() string
	Identity() session.Identity
	Begin(ctx context.Context, result model.LoginResult) error
	End(ctx context.Context)
}

// Cart is the cart store as seen by handlers.
type Cart interface {
	Items() []cart.LineItem
	ItemCount() int
	AddItem(ctx context.Context, p cart.ProductRef) []cart.LineItem
	RemoveItem(ctx context.Context, id model.ID) []cart.LineItem
	UpdateQuantity(ctx context.Context, id model.ID, delta int) []cart.LineItem
	Clear(ctx context.Context) []cart.LineItem
}

// Catalog browses products.
type Catalog interface {
	Browse(ctx context.Context, filter model.ProductFilter) ([]catalog.Listing, error)
	AddToCart(ctx context.Context, id model.ID) ([]cart.LineItem, error)
}

// Checkout places orders from the cart.
type Checkout interface {
	Checkout(ctx context.Context) (*checkout.Result, error)
}

// Dashboard runs farmer operations.
type Dashboard interface {
	Load(ctx context.Context) (*dashboard.Overview, error)
	SaveProduct(ctx context.Context, id model.ID, input model.ProductInput) (*model.Product, error)
	DeleteProduct(ctx context.Context, id model.ID) error
	UpdateProfile(ctx context.Context, profile model.Profile) (*model.Profile, error)
	PatchProfile(ctx context.Context, fields map[string]any) (*model.Profile, error)
	CropPlans(ctx context.Context) ([]dashboard.PlanView, error)
	AddCropPlan(ctx context.Context, input model.CropPlanInput) (*dashboard.PlanView, error)
	SetOrderStatus(ctx context.Context, id model.ID, status model.OrderStatus) error
}

// Deps are the collaborators of RESTHandler.
type Deps struct {
	Backend   Backend
	Session   Session
	Cart      Cart
	Catalog   Catalog
	Checkout  Checkout
	Dashboard Dashboard
	// Ready reports whether local state is usable; nil means always ready.
	Ready func(ctx context.Context) error
}

// RESTHandler serves the gateway REST API.
type RESTHandler struct {
	Deps
	logger *zap.Logger
}

// NewRESTHandler creates a new RESTHandler instance.
func NewRESTHandler(deps Deps, logger *zap.Logger) *RESTHandler {
	return &RESTHandler{Deps: deps, logger: logger}
}

// CartView is the cart as returned by the API.
type CartView struct {
	Items     []cart.LineItem `json:"items"`
	ItemCount int             `json:"item_count"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// CountResponse carries the cart badge count.
type CountResponse struct {
	Count int `json:"count"`
}

// addItemRequest adds a product to the cart. When only the id is given the
// product is looked up in the catalog.
type addItemRequest struct {
	ID    model.ID         `json:"id"`
	Name  string           `json:"name"`
	Price *decimal.Decimal `json:"price"`
	Image *string          `json:"image"`
}

// quantityRequest changes a line item quantity by Delta.
type quantityRequest struct {
	Delta *int `json:"delta"`
}

// RegisterRoutes registers the REST API routes with the router.
func (h *RESTHandler) RegisterRoutes(router *mux.Router) {
	authed := middleware.RequireSession(h.Session)
	farmer := middleware.RequireRole(h.Session, model.RoleFarmer)

	handle := func(path string, fn http.HandlerFunc, guard middleware.Middleware, methods ...string) {
		var handler http.Handler = fn
		if guard != nil {
			handler = guard(handler)
		}
		router.Handle(path, handler).Methods(methods...)
	}

	handle("/health", h.HealthCheck, nil, http.MethodGet)
	handle("/ready", h.ReadyCheck, nil, http.MethodGet)

	handle("/api/v1/session", h.GetSession, nil, http.MethodGet)
	handle("/api/v1/session", h.Login, nil, http.MethodPost)
	handle("/api/v1/session", h.Logout, nil, http.MethodDelete)
	handle("/api/v1/signup", h.Signup, nil, http.MethodPost)

	handle("/api/v1/products", h.ListProducts, nil, http.MethodGet)

	handle("/api/v1/cart", h.GetCart, nil, http.MethodGet)
	handle("/api/v1/cart", h.ClearCart, nil, http.MethodDelete)
	handle("/api/v1/cart/count", h.CartCount, nil, http.MethodGet)
	handle("/api/v1/cart/items", h.AddCartItem, nil, http.MethodPost)
	handle("/api/v1/cart/items/{id}", h.UpdateCartItem, nil, http.MethodPatch)
	handle("/api/v1/cart/items/{id}", h.RemoveCartItem, nil, http.MethodDelete)
	handle("/api/v1/checkout", h.PlaceOrder, nil, http.MethodPost)

	handle("/api/v1/orders", h.ListOrders, authed, http.MethodGet)
	handle("/api/v1/orders/{id}/invoice", h.DownloadInvoice, authed, http.MethodGet)
	handle("/api/v1/orders/{id}/status", h.SetOrderStatus, farmer, http.MethodPatch)

	handle("/api/v1/profile", h.GetProfile, authed, http.MethodGet)
	handle("/api/v1/profile", h.UpdateProfile, farmer, http.MethodPut)
	handle("/api/v1/profile", h.PatchProfile, farmer, http.MethodPatch)

	handle("/api/v1/dashboard", h.GetDashboard, farmer, http.MethodGet)
	handle("/api/v1/farmer/products", h.CreateProduct, farmer, http.MethodPost)
	handle("/api/v1/farmer/products/{id}", h.UpdateProduct, farmer, http.MethodPut)
	handle("/api/v1/farmer/products/{id}", h.DeleteProduct, farmer, http.MethodDelete)
	handle("/api/v1/crop-plans", h.ListCropPlans, farmer, http.MethodGet)
	handle("/api/v1/crop-plans", h.AddCropPlan, farmer, http.MethodPost)
}

// HealthCheck handles GET /health requests.
func (h *RESTHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(HealthResponse{
		Status:  "healthy",
		Version: Version,
	}))
}

// ReadyCheck handles GET /ready requests.
func (h *RESTHandler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, h.logger, http.StatusServiceUnavailable, model.APIResponse[ReadyResponse]{
				Data:  ReadyResponse{Status: "not ready"},
				Error: err.Error(),
			})
			return
		}
	}

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(ReadyResponse{Status: "ready"}))
}

// GetSession handles GET /api/v1/session requests.
func (h *RESTHandler) GetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(h.Session.Identity()))
}

// Login handles POST /api/v1/session requests.
func (h *RESTHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if err := decodeJSON(w, r, &creds); err != nil {
		writeError(w, h.logger, "login", err)
		return
	}

	if err := creds.Validate(); err != nil {
		writeError(w, h.logger, "login", err)
		return
	}

	result, err := h.Backend.Login(r.Context(), creds)
	if err != nil {
		writeError(w, h.logger, "login", err)
		return
	}

	if err := h.Session.Begin(r.Context(), *result); err != nil {
		writeError(w, h.logger, "login", err)
		return
	}

	h.logger.Info("user logged in",
		zap.String("username", result.Username),
		zap.String("role", string(result.Role)),
	)

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(h.Session.Identity()))
}

// Logout handles DELETE /api/v1/session requests.
func (h *RESTHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.Session.End(r.Context())
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(h.Session.Identity()))
}

// Signup handles POST /api/v1/signup requests.
func (h *RESTHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req model.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "signup", err)
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, h.logger, "signup", err)
		return
	}

	user, err := h.Backend.Signup(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, "signup", err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, model.NewSuccessResponse(user))
}

// ListProducts handles GET /api/v1/products requests.
func (h *RESTHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, h.logger, "list products", err)
		return
	}

	listings, err := h.Catalog.Browse(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, "list products", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(listings))
}

// parseFilter reads catalog filters from the query string.
func parseFilter(r *http.Request) (model.ProductFilter, error) {
	q := r.URL.Query()
	filter := model.ProductFilter{
		CropType:    q.Get("crop_type"),
		HarvestDate: q.Get("harvest_date"),
		Role:        model.Role(q.Get("role")),
	}

	if raw := q.Get("max_distance"); raw != "" {
		d, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return filter, fmt.Errorf("%w: max_distance: %v", errBadBody, err)
		}
		filter.MaxDistance = &d
	}

	return filter, nil
}

// cartView derives count and subtotal from a single snapshot so the three
// fields always agree.
func (h *RESTHandler) cartView() CartView {
	return newCartView(h.Cart.Items())
}

func newCartView(items []cart.LineItem) CartView {
	return CartView{
		Items:     items,
		ItemCount: cart.Count(items),
		Subtotal:  cart.Subtotal(items),
	}
}

// GetCart handles GET /api/v1/cart requests.
func (h *RESTHandler) GetCart(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(h.cartView()))
}

// ClearCart handles DELETE /api/v1/cart requests.
func (h *RESTHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	items := h.Cart.Clear(r.Context())
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(newCartView(items)))
}

// CartCount handles GET /api/v1/cart/count requests.
func (h *RESTHandler) CartCount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(CountResponse{Count: h.Cart.ItemCount()}))
}

// AddCartItem handles POST /api/v1/cart/items requests.
func (h *RESTHandler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "add cart item", err)
		return
	}

	if req.ID.IsZero() {
		writeError(w, h.logger, "add cart item", fmt.Errorf("%w: id is required", errBadBody))
		return
	}

	var items []cart.LineItem
	if req.Name == "" || req.Price == nil {
		var err error
		if items, err = h.Catalog.AddToCart(r.Context(), req.ID); err != nil {
			writeError(w, h.logger, "add cart item", err)
			return
		}
	} else {
		if req.Price.IsNegative() {
			writeError(w, h.logger, "add cart item", model.ErrNegativePrice)
			return
		}
		items = h.Cart.AddItem(r.Context(), cart.ProductRef{
			ID:    req.ID,
			Name:  req.Name,
			Price: *req.Price,
			Image: req.Image,
		})
	}

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(newCartView(items)))
}

// UpdateCartItem handles PATCH /api/v1/cart/items/{id} requests.
func (h *RESTHandler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "update cart item", err)
		return
	}

	if req.Delta == nil {
		writeError(w, h.logger, "update cart item", fmt.Errorf("%w: delta is required", errBadBody))
		return
	}

	items := h.Cart.UpdateQuantity(r.Context(), pathID(r), *req.Delta)
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(newCartView(items)))
}

// RemoveCartItem handles DELETE /api/v1/cart/items/{id} requests.
func (h *RESTHandler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	items := h.Cart.RemoveItem(r.Context(), pathID(r))
	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(newCartView(items)))
}

// PlaceOrder handles POST /api/v1/checkout requests.
func (h *RESTHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	result, err := h.Checkout.Checkout(r.Context())
	if err != nil {
		writeError(w, h.logger, "checkout", err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, model.NewSuccessResponse(result))
}

func pathID(r *http.Request) model.ID {
	return model.ID(mux.Vars(r)["id"])
}

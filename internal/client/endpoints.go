package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/model"
)

// maxInvoiceSize bounds the invoice download.
const maxInvoiceSize = 32 << 20

// Invoice is a downloaded order invoice.
type Invoice struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (*model.LoginResult, error) {
	var out model.LoginResult
	err := c.do(ctx, call{operation: "login", method: http.MethodPost, path: "login/", body: creds}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Signup registers a new account.
func (c *Client) Signup(ctx context.Context, req model.SignupRequest) (*model.User, error) {
	var out model.User
	err := c.do(ctx, call{operation: "signup", method: http.MethodPost, path: "signup/", body: req}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProducts returns the catalog narrowed by filter.
func (c *Client) ListProducts(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	out := []model.Product{}
	err := c.do(ctx, call{
		operation: "list_products",
		method:    http.MethodGet,
		path:      "products/",
		query:     filter.Query(),
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetProduct returns a single product.
func (c *Client) GetProduct(ctx context.Context, id model.ID) (*model.Product, error) {
	var out model.Product
	err := c.do(ctx, call{operation: "get_product", method: http.MethodGet, path: productPath(id)}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateProduct publishes a new listing for the logged-in farmer.
func (c *Client) CreateProduct(ctx context.Context, input model.ProductInput) (*model.Product, error) {
	var out model.Product
	err := c.do(ctx, call{operation: "create_product", method: http.MethodPost, path: "products/", body: input}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProduct replaces a listing.
func (c *Client) UpdateProduct(ctx context.Context, id model.ID, input model.ProductInput) (*model.Product, error) {
	var out model.Product
	err := c.do(ctx, call{operation: "update_product", method: http.MethodPut, path: productPath(id), body: input}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProduct removes a listing.
func (c *Client) DeleteProduct(ctx context.Context, id model.ID) error {
	return c.do(ctx, call{operation: "delete_product", method: http.MethodDelete, path: productPath(id)}, nil)
}

// PlaceOrder submits an order for the given lines.
func (c *Client) PlaceOrder(ctx context.Context, req model.PlaceOrderRequest) (*model.Order, error) {
	var out model.Order
	err := c.do(ctx, call{operation: "place_order", method: http.MethodPost, path: "orders/", body: req}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOrders returns the buyer's own orders, or a farmer's incoming orders.
func (c *Client) ListOrders(ctx context.Context) ([]model.Order, error) {
	out := []model.Order{}
	if err := c.do(ctx, call{operation: "list_orders", method: http.MethodGet, path: "orders/"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateOrderStatus moves an order to status.
func (c *Client) UpdateOrderStatus(ctx context.Context, id model.ID, status model.OrderStatus) error {
	return c.do(ctx, call{
		operation: "update_order_status",
		method:    http.MethodPatch,
		path:      orderPath(id) + "update_status/",
		body:      model.StatusUpdate{Status: status},
	}, nil)
}

// DownloadInvoice fetches the invoice document of an order.
func (c *Client) DownloadInvoice(ctx context.Context, id model.ID) (*Invoice, error) {
	resp, err := c.send(ctx, call{
		operation: "download_invoice",
		method:    http.MethodGet,
		path:      orderPath(id) + "download_invoice/",
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxInvoiceSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading invoice: %v", ErrUnavailable, err)
	}

	filename := attachmentName(resp.Header.Get("Content-Disposition"))
	if filename == "" {
		filename = fmt.Sprintf("invoice_%s.pdf", id)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}

	return &Invoice{Filename: filename, ContentType: contentType, Data: data}, nil
}

// GetProfile returns the farm profile of the logged-in user.
func (c *Client) GetProfile(ctx context.Context) (*model.Profile, error) {
	var out model.Profile
	if err := c.do(ctx, call{operation: "get_profile", method: http.MethodGet, path: "profile/"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProfile replaces the farm profile.
func (c *Client) UpdateProfile(ctx context.Context, profile model.Profile) (*model.Profile, error) {
	var out model.Profile
	err := c.do(ctx, call{operation: "update_profile", method: http.MethodPut, path: "profile/", body: profile}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PatchProfile changes only the given profile fields.
func (c *Client) PatchProfile(ctx context.Context, fields map[string]any) (*model.Profile, error) {
	var out model.Profile
	err := c.do(ctx, call{operation: "patch_profile", method: http.MethodPatch, path: "profile/", body: fields}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCropPlans returns the farmer's crop plans.
func (c *Client) ListCropPlans(ctx context.Context) ([]model.CropPlan, error) {
	out := []model.CropPlan{}
	if err := c.do(ctx, call{operation: "list_crop_plans", method: http.MethodGet, path: "crop-plans/"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateCropPlan adds a crop plan; the collaborator fills in the volume
// estimate.
func (c *Client) CreateCropPlan(ctx context.Context, input model.CropPlanInput) (*model.CropPlan, error) {
	var out model.CropPlan
	err := c.do(ctx, call{operation: "create_crop_plan", method: http.MethodPost, path: "crop-plans/", body: input}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func productPath(id model.ID) string {
	return "products/" + url.PathEscape(id.String()) + "/"
}

func orderPath(id model.ID) string {
	return "orders/" + url.PathEscape(id.String()) + "/"
}

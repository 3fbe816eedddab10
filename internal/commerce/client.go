package commerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/internal/models"
	"github.com/Dundurn-Market/open-tender-redux/internal/util"

	"go.uber.org/zap"
)

// Config identifies the brand against the commerce API.
type Config struct {
	BaseURL  string
	AuthURL  string
	ClientID string
	BrandID  string
	Timeout  time.Duration
}

// Client is the commerce API used by the checkout pipeline.
type Client struct {
	transport  *Transport
	httpClient *http.Client
	authURL    string
	clientID   string
	logger     *zap.Logger
}

// NewClient creates a commerce API client
func NewClient(cfg Config, opts ...Option) *Client {
	base := []Option{
		WithHeader("client-id", cfg.ClientID),
		WithHeader("brand-id", cfg.BrandID),
		WithTimeout(cfg.Timeout),
	}
	transport := NewTransport("commerce", cfg.BaseURL, append(base, opts...)...)
	return &Client{
		transport:  transport,
		httpClient: transport.httpClient,
		authURL:    strings.TrimRight(cfg.AuthURL, "/"),
		clientID:   cfg.ClientID,
		logger:     util.GetLogger(),
	}
}

// ValidateOrder prices the order and reports field errors without creating it.
func (c *Client) ValidateOrder(ctx context.Context, order *models.AssembledOrder) (*models.Check, error) {
	ctx, span := util.StartSpan(ctx, "CommerceClient.ValidateOrder")
	defer span.End()

	resp, err := c.transport.Do(ctx, Request{Endpoint: "/orders/validate", Method: http.MethodPost, Body: order})
	if err != nil {
		return nil, err
	}
	var check models.Check
	if err := resp.Decode(&check); err != nil {
		return nil, err
	}
	return &check, nil
}

// CreateOrder is the authoritative order creation call.
func (c *Client) CreateOrder(ctx context.Context, order *models.AssembledOrder) (*models.CompletedOrder, error) {
	ctx, span := util.StartSpan(ctx, "CommerceClient.CreateOrder")
	defer span.End()

	resp, err := c.transport.Do(ctx, Request{Endpoint: "/orders", Method: http.MethodPost, Body: order})
	if err != nil {
		return nil, err
	}
	var completed models.CompletedOrder
	if err := resp.Decode(&completed); err != nil {
		return nil, err
	}
	return &completed, nil
}

// GetMenu fetches the menu for a fulfillment triple.
func (c *Client) GetMenu(ctx context.Context, revenueCenterID int64, serviceType models.ServiceType, requestedAt string) (*models.Menu, error) {
	ctx, span := util.StartSpan(ctx, "CommerceClient.GetMenu")
	defer span.End()

	params := url.Values{}
	params.Set("revenue_center_id", strconv.FormatInt(revenueCenterID, 10))
	params.Set("service_type", string(serviceType))
	params.Set("requested_at", requestedAt)

	resp, err := c.transport.Do(ctx, Request{Endpoint: "/menus?" + params.Encode()})
	if err != nil {
		return nil, err
	}
	var menu models.Menu
	if err := resp.Decode(&menu); err != nil {
		return nil, err
	}
	return &menu, nil
}

// GetRevenueCenter fetches one revenue center.
func (c *Client) GetRevenueCenter(ctx context.Context, revenueCenterID int64) (*models.RevenueCenter, error) {
	resp, err := c.transport.Do(ctx, Request{Endpoint: fmt.Sprintf("/revenue-centers/%d", revenueCenterID)})
	if err != nil {
		return nil, err
	}
	var rc models.RevenueCenter
	if err := resp.Decode(&rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// GetCustomer fetches the authenticated customer's profile.
func (c *Client) GetCustomer(ctx context.Context, token string) (*models.CustomerProfile, error) {
	resp, err := c.transport.Do(ctx, Request{Endpoint: "/customer", Token: token})
	if err != nil {
		return nil, err
	}
	var profile models.CustomerProfile
	if err := resp.Decode(&profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetCustomerOrders fetches the customer's order history. A zero limit
// leaves paging to the server.
func (c *Client) GetCustomerOrders(ctx context.Context, token string, limit int) ([]models.CustomerOrder, error) {
	endpoint := "/customer/orders"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	resp, err := c.transport.Do(ctx, Request{Endpoint: endpoint, Token: token})
	if err != nil {
		return nil, err
	}
	var page struct {
		Data []models.CustomerOrder `json:"data"`
	}
	if err := resp.Decode(&page); err != nil {
		return nil, err
	}
	if page.Data == nil {
		page.Data = []models.CustomerOrder{}
	}
	return page.Data, nil
}

// Login exchanges customer credentials for a token with the OAuth password
// grant. Rejected credentials (400 or 401) match ErrUnauthorized; other
// failures are classified like any other commerce call.
func (c *Client) Login(ctx context.Context, email, password string) (*models.Auth, error) {
	ctx, span := util.StartSpan(ctx, "CommerceClient.Login")
	defer span.End()

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", email)
	form.Set("password", password)
	form.Set("client_id", c.clientID)

	if c.transport.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.transport.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+loginEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, requestError(ctx, http.MethodPost, loginEndpoint)
	}
	defer func() { _ = resp.Body.Close() }()

	status := resp.StatusCode
	if status >= http.StatusInternalServerError {
		return nil, serverError(status, http.StatusText(status))
	}

	var body struct {
		models.Auth
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	rejected := status == http.StatusBadRequest || status == http.StatusUnauthorized
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if rejected {
			return nil, loginRejected("", "")
		}
		return nil, fmt.Errorf("%w: status %d", ErrMalformedResponse, status)
	}

	switch {
	case rejected || body.Error != "":
		return nil, loginRejected(body.Error, body.ErrorDescription)
	case status < 200 || status >= 300:
		return nil, &APIError{Status: status, Code: "errors.request", Detail: http.StatusText(status)}
	case body.AccessToken == "":
		return nil, fmt.Errorf("%w: login response has no access token", ErrMalformedResponse)
	}

	c.logger.Debug("Customer token issued", zap.String("token_type", body.TokenType))
	return &body.Auth, nil
}

const loginEndpoint = "/oauth2/token"

func loginRejected(code, description string) error {
	msg := description
	if msg == "" {
		msg = code
	}
	if msg == "" {
		msg = "credentials rejected"
	}
	return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
}

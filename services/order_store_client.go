package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/yeremiapane/restaurant-sync/access"
	"github.com/yeremiapane/restaurant-sync/models"
)

// OrderStoreClient talks to the store service over REST/JSON.
type OrderStoreClient struct {
	baseURL    string
	httpClient *http.Client

	mu       sync.RWMutex
	token    string
	email    string
	password string

	// serializes logins so concurrent 401s re-login once
	loginMu sync.Mutex
}

const loginPath = "/login"

// envelope mirrors utils.JSONResponse on the server.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func NewOrderStoreClient(baseURL string, timeout time.Duration) *OrderStoreClient {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &OrderStoreClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetToken sets the bearer credential sent with every call.
func (sc *OrderStoreClient) SetToken(token string) {
	sc.mu.Lock()
	sc.token = token
	sc.mu.Unlock()
}

func (sc *OrderStoreClient) Token() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.token
}

// Login exchanges credentials for a token, keeps it and returns it with the
// user's role. The credentials are remembered so a call answered with 401
// logs in again and is retried once.
func (sc *OrderStoreClient) Login(ctx context.Context, email, password string) (string, string, error) {
	sc.loginMu.Lock()
	defer sc.loginMu.Unlock()

	token, role, err := sc.login(ctx, email, password)
	if err != nil {
		return "", "", err
	}
	sc.mu.Lock()
	sc.email, sc.password = email, password
	sc.mu.Unlock()
	return token, role, nil
}

func (sc *OrderStoreClient) login(ctx context.Context, email, password string) (string, string, error) {
	var out struct {
		Token string `json:"token"`
		Role  string `json:"user_role"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := sc.send(ctx, http.MethodPost, loginPath, "", body, &out); err != nil {
		return "", "", err
	}
	sc.SetToken(out.Token)
	return out.Token, out.Role, nil
}

// relogin replaces stale with a fresh token unless another caller already
// did.
func (sc *OrderStoreClient) relogin(ctx context.Context, stale string) error {
	sc.loginMu.Lock()
	defer sc.loginMu.Unlock()

	sc.mu.RLock()
	current, email, password := sc.token, sc.email, sc.password
	sc.mu.RUnlock()
	if current != stale {
		return nil
	}
	if email == "" {
		return fmt.Errorf("%w: no credentials to log in again", access.ErrUnauthorized)
	}
	_, _, err := sc.login(ctx, email, password)
	return err
}

func (sc *OrderStoreClient) List(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	if err := sc.do(ctx, http.MethodGet, "/api/orders", nil, &orders); err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

func (sc *OrderStoreClient) Create(ctx context.Context, draft models.Draft) (models.Order, error) {
	var order models.Order
	err := sc.do(ctx, http.MethodPost, "/api/orders", draft, &order)
	return order, err
}

func (sc *OrderStoreClient) UpdateStatus(ctx context.Context, id string, status models.Status) (models.Order, error) {
	var order models.Order
	body := map[string]models.Status{"status": status}
	err := sc.do(ctx, http.MethodPut, "/api/orders/"+url.PathEscape(id)+"/status", body, &order)
	return order, err
}

func (sc *OrderStoreClient) UpdatePayment(ctx context.Context, id string, p models.PaymentUpdate) (models.Order, error) {
	var order models.Order
	err := sc.do(ctx, http.MethodPut, "/api/orders/"+url.PathEscape(id)+"/payment", p, &order)
	return order, err
}

func (sc *OrderStoreClient) Delete(ctx context.Context, id string) error {
	return sc.do(ctx, http.MethodDelete, "/api/orders/"+url.PathEscape(id), nil, nil)
}

func (sc *OrderStoreClient) DeleteAll(ctx context.Context) error {
	return sc.do(ctx, http.MethodDelete, "/api/orders", nil, nil)
}

func (sc *OrderStoreClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	token := sc.Token()
	err := sc.send(ctx, method, path, token, body, out)
	if !errors.Is(err, access.ErrUnauthorized) {
		return err
	}
	if lerr := sc.relogin(ctx, token); lerr != nil {
		return err
	}
	return sc.send(ctx, method, path, sc.Token(), body, out)
}

func (sc *OrderStoreClient) send(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, sc.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, models.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, models.ErrUnavailable, err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("%s %s: %w: bad response body: %v", method, path, models.ErrUnavailable, err)
		}
	}

	if err := statusError(resp.StatusCode, env.Message); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: %w: bad response data: %v", method, path, models.ErrUnavailable, err)
		}
	}
	return nil
}

// statusError maps a response code onto the store error taxonomy.
func statusError(code int, message string) error {
	if code >= 200 && code < 300 {
		return nil
	}
	if message == "" {
		message = http.StatusText(code)
	}
	switch code {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", models.ErrNotFound, message)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &models.ValidationError{Reason: message}
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", access.ErrUnauthorized, message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", access.ErrForbidden, message)
	default:
		return fmt.Errorf("%w: status %d: %s", models.ErrUnavailable, code, message)
	}
}

var _ OrderStore = (*OrderStoreClient)(nil)

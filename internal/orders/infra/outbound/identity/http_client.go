package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/circuitbreaker"
)

// StatusError es una respuesta no-2xx de Identity.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("identity responded %d: %s", e.Status, e.Body)
}

func (e *StatusError) HTTPStatus() int { return e.Status }

// HTTPClient consulta GET /internal/users/:id de Identity a través del circuit breaker.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

func NewHTTPClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.Breaker) *HTTPClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

func (c *HTTPClient) Lookup(ctx context.Context, userID string) (*domain.Customer, error) {
	customer, err := circuitbreaker.Do(c.breaker, func() (*domain.Customer, error) {
		return c.fetch(ctx, userID)
	})
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return nil, domain.ErrUserNotFound
	}
	return customer, err
}

func (c *HTTPClient) fetch(ctx context.Context, userID string) (*domain.Customer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/internal/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, &StatusError{Status: resp.StatusCode, Body: body.Error.Message}
	}

	var body struct {
		Data domain.Customer `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid identity response: %w", err)
	}
	return &body.Data, nil
}

var _ domain.UserDirectory = (*HTTPClient)(nil)

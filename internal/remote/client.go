package remote

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
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/logger"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// TokenSource supplies the bearer token for the signed-in user.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Config struct {
	// BaseURL is the API root, e.g. https://shop.example.com/api/.
	BaseURL string
	Timeout time.Duration
	// MaxFailures consecutive transport or 5xx failures open the breaker
	// for OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
	HTTPClient  *http.Client
}

// Client talks to the commerce backend's cart endpoints.
type Client struct {
	base    string
	http    *http.Client
	tokens  TokenSource
	breaker *gobreaker.CircuitBreaker[*http.Response]
	log     *zap.Logger
}

func NewClient(cfg Config, tokens TokenSource, log *zap.Logger) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host required", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	log = logger.OrNop(log).Named("remote")
	maxFailures := cfg.MaxFailures
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "remote-cart",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up is not a backend failure
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/") + "/",
		http:    httpClient,
		tokens:  tokens,
		breaker: breaker,
		log:     log,
	}, nil
}

// BreakerState reports the circuit breaker state: closed, half-open or open.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) GetCart(ctx context.Context) (*domain.RemoteCart, error) {
	body, err := c.do(ctx, http.MethodGet, "cart/", nil)
	if err != nil {
		return nil, err
	}

	var doc cartDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return doc.toDomain(), nil
}

func (c *Client) AddLine(ctx context.Context, productID string, quantity int) (*domain.RemoteLine, error) {
	body, err := c.do(ctx, http.MethodPost, "cart/items/", addItemRequest{
		ProductID: wireID(productID),
		Quantity:  quantity,
	})
	if err != nil {
		return nil, err
	}

	line, err := decodeLine(body)
	if err != nil {
		return nil, err
	}
	if line.ProductID == "" {
		line.ProductID = productID
	}
	if line.Quantity == 0 {
		line.Quantity = quantity
	}
	return line, nil
}

func (c *Client) UpdateLine(ctx context.Context, lineID string, quantity int) (*domain.RemoteLine, error) {
	body, err := c.do(ctx, http.MethodPatch, itemPath(lineID), updateItemRequest{Quantity: quantity})
	if err != nil {
		return nil, err
	}

	line, err := decodeLine(body)
	if err != nil {
		return nil, err
	}
	if line.LineID == "" {
		line.LineID = lineID
	}
	if line.Quantity == 0 {
		line.Quantity = quantity
	}
	return line, nil
}

// DeleteLine treats a line that is already gone as deleted.
func (c *Client) DeleteLine(ctx context.Context, lineID string) error {
	_, err := c.do(ctx, http.MethodDelete, itemPath(lineID), nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	log := logger.WithContext(ctx, c.log).With(
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID))
	start := time.Now()

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			defer resp.Body.Close()
			return nil, statusError(method, path, resp)
		}
		return resp, nil
	})
	if err != nil {
		log.Debug("remote call failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("remote cart unavailable: %w", err)
		}
		var se *StatusError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	log.Debug("remote call", zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, statusError(method, path, resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

func statusError(method, path string, resp *http.Response) *StatusError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{
		Method: method,
		Path:   path,
		Code:   resp.StatusCode,
		Body:   strings.TrimSpace(string(data)),
	}
}

// decodeLine accepts an empty body, since some backends answer 204.
func decodeLine(body []byte) (*domain.RemoteLine, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return &domain.RemoteLine{}, nil
	}
	var doc itemDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode cart item: %w", err)
	}
	line := doc.toDomain()
	return &line, nil
}

func itemPath(lineID string) string {
	return "cart/items/" + url.PathEscape(lineID) + "/"
}

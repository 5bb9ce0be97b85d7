package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/remote/remotetest"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

type failingToken struct{}

func (failingToken) Token(context.Context) (string, error) { return "", ErrNoToken }

func setupBackend(t *testing.T) (*Client, *remotetest.Server) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	srv.RequireToken("secret")
	srv.AddProduct("1", "Mug", "10.50")
	srv.AddProduct("sku-2", "Tea", "3.25")

	client, err := NewClient(Config{BaseURL: srv.BaseURL(), Timeout: time.Second}, staticToken("secret"), nil)
	require.NoError(t, err)
	return client, srv
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "not a url"}, nil, nil)
	assert.Error(t, err)

	_, err = NewClient(Config{BaseURL: "/relative/"}, nil, nil)
	assert.Error(t, err)
}

func TestGetCart_Empty(t *testing.T) {
	client, _ := setupBackend(t)

	cart, err := client.GetCart(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cart.Lines)
	assert.True(t, cart.Subtotal.IsZero())
}

func TestGetCart_DecodesNumericAndStringIDs(t *testing.T) {
	client, srv := setupBackend(t)
	lineID := srv.Seed("1", 2)
	srv.Seed("sku-2", 1)

	cart, err := client.GetCart(context.Background())
	require.NoError(t, err)
	require.Len(t, cart.Lines, 2)

	first := cart.Lines[0]
	assert.Equal(t, "1", first.ProductID)
	assert.Equal(t, "Mug", first.Name)
	assert.Equal(t, 2, first.Quantity)
	assert.True(t, first.UnitPrice.Equal(decimal.RequireFromString("10.50")))
	assert.NotEmpty(t, first.LineID)
	assert.Equal(t, lineID, mustAtoi(t, first.LineID))

	assert.Equal(t, "sku-2", cart.Lines[1].ProductID)
	assert.True(t, cart.Subtotal.Equal(decimal.RequireFromString("24.25")))
}

func TestGetCart_SendsHeaders(t *testing.T) {
	var auth, requestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		requestID = r.Header.Get("X-Request-ID")
		assert.Equal(t, "/api/cart/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"a1","product":{"id":7,"name":"Pen","price":1.5},"quantity":3}],"subtotal":4.5}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL + "/api"}, staticToken("tok"), nil)
	require.NoError(t, err)

	cart, err := client.GetCart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", auth)
	assert.Len(t, requestID, 36)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, "a1", cart.Lines[0].LineID)
	assert.Equal(t, "7", cart.Lines[0].ProductID)
	assert.True(t, cart.Lines[0].UnitPrice.Equal(decimal.RequireFromString("1.5")))
}

func TestAddLine(t *testing.T) {
	client, srv := setupBackend(t)

	line, err := client.AddLine(context.Background(), "1", 3)
	require.NoError(t, err)
	assert.Equal(t, "1", line.ProductID)
	assert.Equal(t, 3, line.Quantity)
	assert.NotEmpty(t, line.LineID)

	_, err = client.AddLine(context.Background(), "sku-2", 1)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"1": 3, "sku-2": 1}, srv.Quantities())
}

func TestUpdateLine(t *testing.T) {
	client, srv := setupBackend(t)
	lineID := srv.Seed("1", 1)

	line, err := client.UpdateLine(context.Background(), itoa(lineID), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, line.Quantity)
	assert.Equal(t, map[string]int{"1": 5}, srv.Quantities())
}

func TestUpdateLine_NotFound(t *testing.T) {
	client, _ := setupBackend(t)

	_, err := client.UpdateLine(context.Background(), "999", 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteLine_MissingIsSuccess(t *testing.T) {
	client, srv := setupBackend(t)
	lineID := srv.Seed("1", 1)

	require.NoError(t, client.DeleteLine(context.Background(), itoa(lineID)))
	require.NoError(t, client.DeleteLine(context.Background(), itoa(lineID)))
	assert.Empty(t, srv.Items())
}

func TestUnauthorized(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	srv.RequireToken("secret")

	client, err := NewClient(Config{BaseURL: srv.BaseURL()}, staticToken("wrong"), nil)
	require.NoError(t, err)

	_, err = client.GetCart(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTokenSourceError(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.BaseURL()}, failingToken{}, nil)
	require.NoError(t, err)

	_, err = client.GetCart(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
	assert.Empty(t, srv.Calls())
}

func TestServerError_ReturnsStatusError(t *testing.T) {
	client, srv := setupBackend(t)
	srv.FailMethod(http.MethodPost, http.StatusBadGateway)

	_, err := client.AddLine(context.Background(), "1", 1)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.True(t, se.Temporary())
}

func TestClientError_DoesNotTripBreaker(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	client, err := NewClient(Config{BaseURL: srv.BaseURL(), MaxFailures: 2}, nil, nil)
	require.NoError(t, err)
	srv.FailMethod(http.MethodPost, http.StatusBadRequest)

	for i := 0; i < 5; i++ {
		_, err := client.AddLine(context.Background(), "1", 1)
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.False(t, se.Temporary())
	}
	assert.Equal(t, "closed", client.BreakerState())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	client, err := NewClient(Config{BaseURL: srv.BaseURL(), MaxFailures: 3, OpenTimeout: time.Minute}, nil, nil)
	require.NoError(t, err)
	srv.FailMethod(http.MethodGet, http.StatusInternalServerError)

	for i := 0; i < 3; i++ {
		_, err := client.GetCart(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, "open", client.BreakerState())

	srv.FailMethod(http.MethodGet, 0)
	srv.ResetCalls()

	_, err = client.GetCart(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Empty(t, srv.Calls(), "open breaker must not reach the backend")
}

func TestCanceledContext(t *testing.T) {
	client, _ := setupBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetCart(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "closed", client.BreakerState())
}

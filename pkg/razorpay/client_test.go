package razorpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "key_id", user)
		assert.Equal(t, "key_secret", pass)

		var req CreateOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(43000), req.Amount)
		assert.Equal(t, "order-1", req.Notes["order_id"])

		json.NewEncoder(w).Encode(OrderResponse{
			ID:       "order_rzp_1",
			Amount:   req.Amount,
			Currency: req.Currency,
			Receipt:  req.Receipt,
			Status:   "created",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key_id", "key_secret")
	resp, err := client.CreateOrder(context.Background(), CreateOrderRequest{
		Amount:   43000,
		Currency: "INR",
		Receipt:  "order-1",
		Notes:    map[string]string{"order_id": "order-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "order_rzp_1", resp.ID)
	assert.Equal(t, "created", resp.Status)
}

func TestCreateOrderSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too low"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key_id", "key_secret")
	_, err := client.CreateOrder(context.Background(), CreateOrderRequest{Amount: 1, Currency: "INR"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount too low")
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/cart/application"
	cartDB "github.com/tomarrohitt/e-commerce-sub000/internal/cart/infra/outbound/db"
	"github.com/tomarrohitt/e-commerce-sub000/internal/cart/infra/outbound/store"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	"github.com/tomarrohitt/e-commerce-sub000/internal/testutil"
)

func setupAPI(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	replicas := cartDB.NewReplicaRepo(testutil.OpenSQLite(t))
	testutil.InitSchemas(t, replicas)
	svc := application.NewCartService(store.NewMemoryStore(), replicas, decimal.Zero, zap.NewNop())
	require.NoError(t, svc.OnProductCreated(context.Background(), events.ProductCreatedData{ProductData: events.ProductData{
		ID: "p-1", Name: "Teclado", Price: decimal.RequireFromString("50.00"), StockQuantity: 3, IsActive: true,
	}}))

	r := gin.New()
	RegisterCartRoutes(r, NewCartHandler(svc))
	return r
}

func do(r *gin.Engine, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCartAPI(t *testing.T) {
	r := setupAPI(t)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/cart", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/cart", "u-1", map[string]interface{}{"productId": "ghost", "quantity": 1}).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/cart", "u-1", map[string]interface{}{"productId": "p-1", "quantity": 4}).Code)

	w := do(r, http.MethodPost, "/cart", "u-1", map[string]interface{}{"productId": "p-1", "quantity": 2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Data application.CartView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, decimal.RequireFromString("100").Equal(resp.Data.TotalAmount))

	assert.Equal(t, http.StatusOK, do(r, http.MethodPatch, "/cart/p-1", "u-1", map[string]int{"quantity": 1}).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPatch, "/cart/p-1", "u-2", map[string]int{"quantity": 1}).Code)

	w = do(r, http.MethodGet, "/cart/count", "u-1", nil)
	assert.JSONEq(t, `{"data":{"count":1}}`, w.Body.String())

	w = do(r, http.MethodGet, "/cart/validate", "u-1", nil)
	assert.JSONEq(t, `{"data":{"valid":true,"errors":[]}}`, w.Body.String())

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/cart/p-1", "u-1", nil).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/cart", "u-1", nil).Code)
}

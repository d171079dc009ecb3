package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/circuitbreaker"
)

func newBreaker() *circuitbreaker.Breaker {
	return circuitbreaker.New(circuitbreaker.Config{Name: "identity", FailureThreshold: 2, ResetTimeout: time.Minute}, zap.NewNop())
}

func TestHTTPClient_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/internal/users/u-1":
			_, _ = w.Write([]byte(`{"data":{"id":"u-1","email":"ana@example.com","name":"Ana","verified":true}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"user not found"}}`))
		}
	}))
	defer srv.Close()

	breaker := newBreaker()
	client := NewHTTPClient(srv.URL+"/", time.Second, breaker)

	c, err := client.Lookup(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, &domain.Customer{ID: "u-1", Email: "ana@example.com", Name: "Ana", Verified: true}, c)

	for i := 0; i < 3; i++ {
		_, err = client.Lookup(context.Background(), "ghost")
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	}
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State(), "404 must not trip the breaker")
}

func TestHTTPClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second, newBreaker())
	for i := 0; i < 2; i++ {
		_, err := client.Lookup(context.Background(), "u-1")
		var se *StatusError
		assert.ErrorAs(t, err, &se)
	}

	_, err := client.Lookup(context.Background(), "u-1")
	assert.True(t, circuitbreaker.IsOpen(err))
	assert.Equal(t, int32(2), calls.Load())
}

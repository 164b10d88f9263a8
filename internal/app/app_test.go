package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linemk/naijahub/internal/auth"
	"github.com/linemk/naijahub/internal/config"
	"github.com/linemk/naijahub/internal/lib/logger/handlers/slogdiscard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

// hostedStub отвечает как хостинг: одно tech объявление, пустые таблицы
// в остальных местах и токен карты из edge function.
type hostedStub struct {
	mu    sync.Mutex
	paths []string
}

func (h *hostedStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.paths = append(h.paths, r.Method+" "+r.URL.Path)
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/rest/v1/tech_marketplace_listings":
		_, _ = io.WriteString(w, `[{"id":"l-1","title":"Used iPhone 12","price":"250000","condition":"used",
			"images":["https://cdn.example/1.png"],"seller_id":"seller-1","status":"active",
			"created_at":"2026-10-01T10:00:00Z","category":"phones","brand":"Apple"}]`)
	case r.URL.Path == "/functions/v1/get-mapbox-token":
		_, _ = io.WriteString(w, `{"token":"pk.test"}`)
	case strings.HasPrefix(r.URL.Path, "/rest/v1/"):
		_, _ = io.WriteString(w, `[]`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *hostedStub) calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.paths...)
}

func newTestApp(t *testing.T) (*App, *hostedStub) {
	t.Helper()

	stub := &hostedStub{}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Env:      "local",
		Store:    config.StoreConfig{Driver: config.StoreSupabase},
		Supabase: config.SupabaseConfig{URL: srv.URL, AnonKey: "anon", Timeout: 2 * time.Second},
		JWT:      config.JWTConfig{Secret: testSecret},
		Cache: config.CacheConfig{
			StaleTime:     time.Minute,
			RetryInterval: time.Millisecond,
			PersistMaxAge: time.Hour,
		},
		RateLimit: config.RateLimitConfig{RequestsPerMinute: 60, Burst: 5},
	}

	a, err := NewApp(context.Background(), slogdiscard.NewDiscardLogger(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Cache.Wait()
		_ = a.Close()
	})
	return a, stub
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.NewToken(testSecret, auth.Identity{UserID: userID}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestNewApp_UnknownDriver(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Driver: "sqlite"}}

	_, err := NewApp(context.Background(), slogdiscard.NewDiscardLogger(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown store driver "sqlite"`)
}

func TestNewApp_SupabaseWithoutURL(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Driver: config.StoreSupabase}}

	_, err := NewApp(context.Background(), slogdiscard.NewDiscardLogger(), cfg)
	require.Error(t, err)
}

func TestNewApp_PostgresRequiresPassword(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Driver: config.StorePostgres}}

	_, err := NewApp(context.Background(), slogdiscard.NewDiscardLogger(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}

func TestRouter_Health(t *testing.T) {
	a, _ := newTestApp(t)

	rr := httptest.NewRecorder()
	a.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_PublicListings(t *testing.T) {
	a, stub := newTestApp(t)
	router := a.Router()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tech/listings", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Marketplace string `json:"marketplace"`
		Listings    []struct {
			ID    string `json:"id"`
			Brand string `json:"brand"`
			Price string `json:"price"`
		} `json:"listings"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "tech", resp.Marketplace)
	require.Len(t, resp.Listings, 1)
	assert.Equal(t, "Apple", resp.Listings[0].Brand)
	assert.Equal(t, "250000", resp.Listings[0].Price)

	// повторное чтение до устаревания отдаётся из кэша
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tech/listings", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, stub.calls(), 1)
}

func TestRouter_PublicPosts(t *testing.T) {
	a, stub := newTestApp(t)

	rr := httptest.NewRecorder()
	a.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/posts", nil))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.JSONEq(t, `{"posts":[]}`, rr.Body.String())
	assert.Equal(t, []string{"GET /rest/v1/posts"}, stub.calls())
}

func TestRouter_UnknownMarketplace(t *testing.T) {
	a, stub := newTestApp(t)

	rr := httptest.NewRecorder()
	a.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/fashion/listings", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Empty(t, stub.calls())
}

func TestRouter_ProtectedRoutesRequireToken(t *testing.T) {
	a, stub := newTestApp(t)
	router := a.Router()

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/tech/cart"},
		{http.MethodPost, "/api/auto/checkout"},
		{http.MethodGet, "/api/dashboard"},
		{http.MethodPost, "/api/beauty/listings"},
		{http.MethodGet, "/api/map-token"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
	assert.Empty(t, stub.calls())
}

func TestRouter_AuthenticatedCart(t *testing.T) {
	a, stub := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tech/cart", nil)
	req.Header.Set("Authorization", bearer(t, "buyer-1"))
	rr := httptest.NewRecorder()
	a.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []string{"GET /rest/v1/tech_marketplace_cart_items"}, stub.calls())
}

func TestRouter_MapToken(t *testing.T) {
	a, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/map-token", nil)
	req.Header.Set("Authorization", bearer(t, "buyer-1"))
	rr := httptest.NewRecorder()
	a.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "pk.test")
}

func TestRouter_CheckoutIsRateLimited(t *testing.T) {
	a, _ := newTestApp(t)
	router := a.Router()
	token := bearer(t, "buyer-1")

	codes := make([]int, 0, 6)
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/tech/checkout", strings.NewReader(`{}`))
		req.Header.Set("Authorization", token)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	// пять запросов доходят до валидации, шестой отклоняется
	for _, code := range codes[:5] {
		assert.Equal(t, http.StatusBadRequest, code)
	}
	assert.Equal(t, http.StatusTooManyRequests, codes[5])
}

func TestRouter_MetricsExposed(t *testing.T) {
	a, _ := newTestApp(t)
	router := a.Router()

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `naijahub_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

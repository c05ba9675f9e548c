package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"borrow-analytics-backend/config"
)

func setupSubscriptionRouter() *gin.Engine {
	r := gin.New()
	handler := NewHandler(nil, nil, nil, config.SourcesConfig{}, zerolog.Nop())
	r.PUT("/api/subscriptions", handler.PutSubscription)
	r.DELETE("/api/subscriptions", handler.DeleteSubscription)
	r.GET("/api/subscriptions", handler.GetSubscription)
	return r
}

func TestPutSubscription_InvalidRequest(t *testing.T) {
	router := setupSubscriptionRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/api/subscriptions", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("DELETE", "/api/subscriptions", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/subscriptions", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"endpoint is required"}`, w.Body.String())
}

func TestSubscriptionLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	const endpoint = "https://push.example.com/send/abc"
	getPath := "/api/subscriptions?endpoint=" + endpoint

	w := ts.do(t, http.MethodPut, "/api/subscriptions", map[string]any{
		"endpoint":         endpoint,
		"p256dh":           "key",
		"auth":             "secret",
		"subscribed_items": []string{" CAM 2", "CAM 1", "CAM 1", ""},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, getPath, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subscribed_items":["CAM 1","CAM 2"]}`, w.Body.String())

	// replacing keeps one subscription row and swaps the items
	w = ts.do(t, http.MethodPut, "/api/subscriptions", map[string]any{
		"endpoint":         endpoint,
		"p256dh":           "key2",
		"auth":             "secret2",
		"subscribed_items": []string{"Tripod 1"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	w = ts.do(t, http.MethodGet, getPath, nil)
	assert.JSONEq(t, `{"subscribed_items":["Tripod 1"]}`, w.Body.String())

	var auth string
	require.NoError(t, ts.store.DB().Table("push_subscriptions").Select("auth").Where("endpoint = ?", endpoint).Scan(&auth).Error)
	assert.Equal(t, "secret2", auth)

	w = ts.do(t, http.MethodDelete, "/api/subscriptions", map[string]string{"endpoint": endpoint})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, getPath, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var left int64
	require.NoError(t, ts.store.DB().Table("item_subscriptions").Where("endpoint = ?", endpoint).Count(&left).Error)
	assert.Zero(t, left)
}

func TestRawQueryParam(t *testing.T) {
	v, ok := rawQueryParam("a=1&endpoint=https://x/y%2Bz", "endpoint")
	assert.True(t, ok)
	assert.Equal(t, "https://x/y%2Bz", v)

	_, ok = rawQueryParam("a=1", "endpoint")
	assert.False(t, ok)
}

func TestUniqueItems(t *testing.T) {
	assert.Equal(t, []string{"A 1", "B 2"}, uniqueItems([]string{"B 2", " A 1 ", "", "B 2"}))
	assert.Nil(t, uniqueItems(nil))
}

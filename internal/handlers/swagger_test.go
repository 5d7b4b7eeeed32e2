package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegisterMountsEveryRoute checks the router exposes the documented
// operator routes plus the docs and metrics endpoints.
func TestRegisterMountsEveryRoute(t *testing.T) {
	f := newFixture(t)

	want := map[string]bool{
		"GET /health":                false,
		"GET /metrics":               false,
		"GET /docs/*any":             false,
		"POST /auth/tokens":          false,
		"POST /missions/:id/trigger": false,
		"GET /tasks":                 false,
		"GET /tasks/:id":             false,
		"POST /tasks/:id/cancel":     false,
		"POST /tasks/rescue-stuck":   false,
		"GET /quotas":                false,
		"POST /cron/tick":            false,
		"POST /cron/followups":       false,
	}
	for _, route := range f.router.Routes() {
		key := route.Method + " " + route.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		assert.True(t, found, "route %s should be registered", route)
	}
}

// TestSwaggerUIServed verifies the gin-swagger handler answers under /docs.
func TestSwaggerUIServed(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/index.html", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "swagger")
}

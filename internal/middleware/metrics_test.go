package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/tktauth/internal/observability"
)

func gatherFamilyNames(t *testing.T, m *observability.Metrics) map[string]bool {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	return names
}

func TestMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m := observability.NewMetrics("middlewaretest")

	router := gin.New()
	router.Use(Metrics(m))
	router.GET("/items/:id", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	req := httptest.NewRequest(http.MethodGet, "/items/42", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	names := gatherFamilyNames(t, m)
	assert.True(t, names["middlewaretest_requests_total"])
	assert.True(t, names["middlewaretest_request_duration_seconds"])
	assert.True(t, names["middlewaretest_response_size_bytes"])
}

func TestMetrics_RouteTemplateLabel(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m := observability.NewMetrics("routetest")

	router := gin.New()
	router.Use(Metrics(m))
	router.GET("/items/:id", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	// Two different item IDs must collapse into one route label.
	for _, path := range []string{"/items/1", "/items/2"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, fam := range families {
		if fam.GetName() != "routetest_requests_total" {
			continue
		}
		require.Len(t, fam.GetMetric(), 1)
		metric := fam.GetMetric()[0]
		assert.Equal(t, float64(2), metric.GetCounter().GetValue())

		var route string
		for _, label := range metric.GetLabel() {
			if label.GetName() == "route" {
				route = label.GetValue()
			}
		}
		assert.Equal(t, "/items/:id", route)
		return
	}
	t.Fatal("requests_total family not found")
}

func TestMetrics_UnmatchedRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m := observability.NewMetrics("unmatchedtest")

	router := gin.New()
	router.Use(Metrics(m))

	req := httptest.NewRequest(http.MethodGet, "/no/such/route", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	found := false
	for _, fam := range families {
		if fam.GetName() != "unmatchedtest_requests_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "route" && strings.Contains(label.GetValue(), "unmatched") {
					found = true
				}
			}
		}
	}
	assert.True(t, found, "expected unmatched route label")
}

func TestMetrics_NilMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Metrics(nil))
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	// Should not panic
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rossigee/cloudsize/internal/storage"
	"github.com/rossigee/cloudsize/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockSizer for testing
type MockSizer struct {
	lastPattern string
	err         error
}

func (m *MockSizer) SizeForPattern(_ context.Context, pattern string) (*types.SizeResponse, error) {
	m.lastPattern = pattern
	if m.err != nil {
		return nil, m.err
	}
	return &types.SizeResponse{Pattern: pattern, Files: 2, Bytes: 3072, Human: "3 KB"}, nil
}

// MockJobLister for testing
type MockJobLister struct {
	lastFilter storage.ListJobsFilter
	err        error
}

func (m *MockJobLister) ListJobs(_ context.Context, filter storage.ListJobsFilter) ([]types.JobStatus, error) {
	m.lastFilter = filter
	if m.err != nil {
		return nil, m.err
	}
	return []types.JobStatus{
		{ID: "1", State: types.StateComplete, Files: 10},
		{ID: "2", State: types.StateProcessing, Files: 3},
	}, nil
}

func newTestRouter(sizer SizeReporter, jobs JobLister, auth ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("cloudsize_store_jobs 2\n"))
	})
	SetupRoutes(router, NewHandler(sizer, jobs, metrics), auth...)
	return router
}

func get(router *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", target, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestSetupRoutes(t *testing.T) {
	router := newTestRouter(&MockSizer{}, &MockJobLister{})

	routePaths := make(map[string]bool)
	for _, route := range router.Routes() {
		routePaths[route.Method+" "+route.Path] = true
	}

	assert.True(t, routePaths["GET /api/v1/size"])
	assert.True(t, routePaths["GET /api/v1/jobs"])
	assert.True(t, routePaths["GET /metrics"])
	assert.True(t, routePaths["GET /health"])
}

func TestSetupRoutes_WithoutMetrics(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, NewHandler(&MockSizer{}, &MockJobLister{}, nil))

	assert.Equal(t, http.StatusNotFound, get(router, "/metrics").Code)
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(&MockSizer{}, &MockJobLister{})

	w := get(router, "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestGetSize(t *testing.T) {
	sizer := &MockSizer{}
	router := newTestRouter(sizer, &MockJobLister{})

	w := get(router, "/api/v1/size?pattern=foo")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "foo", sizer.lastPattern)

	var resp types.SizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3072), resp.Bytes)
	assert.Equal(t, "3 KB", resp.Human)
}

func TestGetSize_MissingPattern(t *testing.T) {
	sizer := &MockSizer{}
	router := newTestRouter(sizer, &MockJobLister{})

	w := get(router, "/api/v1/size")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "required")
}

func TestGetSize_StoreError(t *testing.T) {
	router := newTestRouter(&MockSizer{err: errors.New("database is locked")}, &MockJobLister{})

	w := get(router, "/api/v1/size?pattern=foo")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "database is locked")
}

func TestListJobs(t *testing.T) {
	lister := &MockJobLister{}
	router := newTestRouter(&MockSizer{}, lister)

	w := get(router, "/api/v1/jobs?state=Complete&limit=5&offset=10")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, storage.ListJobsFilter{State: types.StateComplete, Limit: 5, Offset: 10}, lister.lastFilter)

	var resp types.JobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "1", resp.Jobs[0].ID)
}

func TestListJobs_InvalidQuery(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"unknown state", "/api/v1/jobs?state=running"},
		{"bad limit", "/api/v1/jobs?limit=ten"},
		{"negative offset", "/api/v1/jobs?offset=-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&MockSizer{}, &MockJobLister{})
			assert.Equal(t, http.StatusBadRequest, get(router, tt.target).Code)
		})
	}
}

func TestListJobs_StoreError(t *testing.T) {
	router := newTestRouter(&MockSizer{}, &MockJobLister{err: errors.New("closed")})

	assert.Equal(t, http.StatusInternalServerError, get(router, "/api/v1/jobs").Code)
}

func TestAuthGuardsReports(t *testing.T) {
	deny := func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{Error: "authentication required", Code: 401})
	}
	router := newTestRouter(&MockSizer{}, &MockJobLister{}, deny)

	assert.Equal(t, http.StatusUnauthorized, get(router, "/api/v1/size?pattern=foo").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "/api/v1/jobs").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "/metrics").Code)
	assert.Equal(t, http.StatusOK, get(router, "/health").Code)
}

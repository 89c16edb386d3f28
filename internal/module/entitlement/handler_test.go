package entitlement

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/framecraft/server/internal/utils/middleware"
)

func newTestRouter(t *testing.T, source RemoteSource, userID uuid.UUID) (*gin.Engine, *Tracker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	catalog := NewTierCatalog()
	cache := newTestCache(source, nil)
	checker := NewChecker(cache, catalog, zap.NewNop(), nil)
	tracker := NewTracker(source, cache, zap.NewNop(), nil, &TrackerConfig{BufferSize: 16})
	t.Cleanup(tracker.Close)

	handler := NewHandler(checker, cache, tracker, catalog, zap.NewNop())

	router := gin.New()
	api := router.Group("/api/v1")
	authed := api.Group("")
	authed.Use(func(c *gin.Context) {
		if userID != uuid.Nil {
			c.Set(middleware.UserIDKey, userID)
		}
		c.Next()
	})
	handler.RegisterRoutes(api, authed)
	return router, tracker
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCheckAllowed(t *testing.T) {
	userID := uuid.New()
	source := &fakeSource{
		sub:   activeSubscription(userID, TierFree),
		usage: freshUsage(TierFree),
	}
	router, _ := newTestRouter(t, source, userID)

	rec := doJSON(router, http.MethodPost, "/api/v1/entitlement/check",
		CheckRequest{Action: ActionGenerateImage, Amount: 1})

	require.Equal(t, http.StatusOK, rec.Code)
	var result QuotaCheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Allowed)
}

func TestHandlerCheckDeniedIsPaymentRequired(t *testing.T) {
	userID := uuid.New()
	usage := freshUsage(TierFree)
	usage.ImagesUsed = 50
	usage.ImagesRemaining = 0
	source := &fakeSource{
		sub:   activeSubscription(userID, TierFree),
		usage: usage,
	}
	router, _ := newTestRouter(t, source, userID)

	rec := doJSON(router, http.MethodPost, "/api/v1/entitlement/check",
		CheckRequest{Action: ActionGenerateImage, Amount: 1})

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var result QuotaCheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Allowed)
	assert.Equal(t, TierProMonthly, result.SuggestedTier)
}

func TestHandlerCheckBadRequests(t *testing.T) {
	userID := uuid.New()
	source := &fakeSource{
		sub:   activeSubscription(userID, TierFree),
		usage: freshUsage(TierFree),
	}
	router, _ := newTestRouter(t, source, userID)

	rec := doJSON(router, http.MethodPost, "/api/v1/entitlement/check",
		CheckRequest{Action: ActionChat, Amount: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/v1/entitlement/check",
		CheckRequest{Action: ActionType("teleport"), Amount: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerCheckBackendOutage(t *testing.T) {
	userID := uuid.New()
	outage := errors.New("backend down")
	source := &fakeSource{
		subErr:   outage,
		usageErr: outage,
	}
	router, _ := newTestRouter(t, source, userID)

	rec := doJSON(router, http.MethodPost, "/api/v1/entitlement/check",
		CheckRequest{Action: ActionChat, Amount: 10})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerCheckUnauthenticated(t *testing.T) {
	source := &fakeSource{}
	router, _ := newTestRouter(t, source, uuid.Nil)

	rec := doJSON(router, http.MethodPost, "/api/v1/entitlement/check",
		CheckRequest{Action: ActionChat, Amount: 10})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerGetUsage(t *testing.T) {
	userID := uuid.New()
	source := &fakeSource{
		sub:   activeSubscription(userID, TierProMonthly),
		usage: freshUsage(TierProMonthly),
	}
	router, _ := newTestRouter(t, source, userID)

	rec := doJSON(router, http.MethodGet, "/api/v1/entitlement/usage", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var usage UsageStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.Equal(t, TierProMonthly, usage.Tier)
	assert.Equal(t, 1000, usage.ImagesLimit)
}

func TestHandlerGetUsageRefreshParam(t *testing.T) {
	userID := uuid.New()
	source := &fakeSource{
		sub:   activeSubscription(userID, TierProMonthly),
		usage: freshUsage(TierProMonthly),
	}
	router, _ := newTestRouter(t, source, userID)

	doJSON(router, http.MethodGet, "/api/v1/entitlement/usage", nil)
	doJSON(router, http.MethodGet, "/api/v1/entitlement/usage?refresh=true", nil)

	_, usageCalls := source.counts()
	assert.Equal(t, 2, usageCalls)
}

func TestHandlerGetWarnings(t *testing.T) {
	userID := uuid.New()
	usage := freshUsage(TierFree)
	usage.ImagesUsed = 45
	usage.ImagesRemaining = 5
	source := &fakeSource{
		sub:   activeSubscription(userID, TierFree),
		usage: usage,
	}
	router, _ := newTestRouter(t, source, userID)

	rec := doJSON(router, http.MethodGet, "/api/v1/entitlement/warnings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Warnings []UsageWarning `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Warnings, 1)
	assert.Equal(t, ResourceImage, body.Warnings[0].ResourceType)
	assert.Equal(t, WarningCritical, body.Warnings[0].Level)
}

func TestHandlerTrackUsage(t *testing.T) {
	userID := uuid.New()
	source := &fakeSource{
		sub:   activeSubscription(userID, TierFree),
		usage: freshUsage(TierFree),
	}
	router, tracker := newTestRouter(t, source, userID)

	rec := doJSON(router, http.MethodPost, "/api/v1/entitlement/usage/track",
		TrackRequest{ResourceType: ResourceImage, Amount: 2})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/v1/entitlement/usage/track",
		TrackRequest{ResourceType: ResourceType("mana"), Amount: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tracker.Close()
	assert.Equal(t, 1, source.eventCount())
}

func TestHandlerListPlansIsPublic(t *testing.T) {
	source := &fakeSource{}
	router, _ := newTestRouter(t, source, uuid.Nil)

	rec := doJSON(router, http.MethodGet, "/api/v1/entitlement/plans", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Plans []PlanView `json:"plans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Plans, 4)
	assert.Equal(t, TierFree, body.Plans[0].Tier)

	var yearly *PlanView
	for i := range body.Plans {
		if body.Plans[i].Tier == TierProYearly {
			yearly = &body.Plans[i]
		}
	}
	require.NotNil(t, yearly)
	assert.Equal(t, int64(4798), yearly.YearlySavingsCents)
}

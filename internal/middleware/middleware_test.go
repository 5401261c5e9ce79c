package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	"github.com/noah-isme/instructor-dispatch-api/internal/service"
	appErrors "github.com/noah-isme/instructor-dispatch-api/pkg/errors"
)

type validatorStub struct {
	claims *models.JWTClaims
}

func (v validatorStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return v.claims, nil
}

func newRouter(claims *models.JWTClaims, handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	chain := append([]gin.HandlerFunc{JWT(validatorStub{claims: claims})}, handlers...)
	chain = append(chain, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/instructors/:instructorId", chain...)
	return r
}

func serve(r http.Handler, path, auth string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec.Code
}

func TestJWTRejectsMissingOrBadTokens(t *testing.T) {
	r := newRouter(&models.JWTClaims{UserID: "u-1", Role: models.RoleAdmin})

	assert.Equal(t, http.StatusUnauthorized, serve(r, "/instructors/x", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/instructors/x", "Token good"))
	assert.Equal(t, http.StatusUnauthorized, serve(r, "/instructors/x", "Bearer bad"))
	assert.Equal(t, http.StatusOK, serve(r, "/instructors/x", "Bearer good"))
}

func TestRBACRolesAndSelf(t *testing.T) {
	instructor := &models.JWTClaims{UserID: "i-1", Role: models.RoleInstructor}
	r := newRouter(instructor, RBAC(string(models.RoleAdmin), Self))

	assert.Equal(t, http.StatusOK, serve(r, "/instructors/i-1", "Bearer good"))
	assert.Equal(t, http.StatusForbidden, serve(r, "/instructors/i-2", "Bearer good"))

	admin := newRouter(&models.JWTClaims{UserID: "a-1", Role: models.RoleAdmin}, RequireRoles(models.RoleAdmin))
	assert.Equal(t, http.StatusOK, serve(admin, "/instructors/i-2", "Bearer good"))

	denied := newRouter(instructor, RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	assert.Equal(t, http.StatusForbidden, serve(denied, "/instructors/i-1", "Bearer good"))
}

func TestAuditLogsSuccessfulCommandsOnly(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "a-1", Role: models.RoleAdmin})
	})
	r.POST("/slots/:slotId/cancel", Audit(logger, "assignment.cancel"), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/slots/:slotId/fail", Audit(logger, "assignment.fail"), func(c *gin.Context) { c.Status(http.StatusConflict) })

	for _, path := range []string{"/slots/s-1:l-1/cancel", "/slots/s-1:l-1/fail"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
	}

	entries := logs.FilterMessage("audit").All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "assignment.cancel", fields["action"])
		assert.Equal(t, "a-1", fields["actor_id"])
		assert.Equal(t, "s-1:l-1", fields["slot_id"])
	}
}

func TestMetricsMiddlewareNilService(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(nil))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusOK, serve(r, "/ping", ""))
}

func TestMetricsMiddlewareCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, "/ping", ""))
	assert.Equal(t, http.StatusNotFound, serve(r, "/missing", ""))
	assert.EqualValues(t, 2, metrics.Snapshot().RequestsTotal)
}

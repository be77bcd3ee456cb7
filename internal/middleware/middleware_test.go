package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailfree/backend/internal/auth"
	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/monitoring"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

// identityEcho 返回上下文中已验证身份的用户名
func identityEcho(c *gin.Context) {
	id := auth.VerifiedIdentity(c.Request.Context())
	if id == nil {
		c.String(http.StatusOK, "guest")
		return
	}
	c.String(http.StatusOK, id.Username)
}

func TestSession(t *testing.T) {
	tokens := auth.NewTokenManager(testSecret, "mailfree", time.Hour)
	token, _, err := tokens.Issue(auth.Identity{Username: "alice", Role: domain.RoleUser, UserID: 3})
	require.NoError(t, err)
	other := auth.NewTokenManager("fedcba9876543210fedcba9876543210", "mailfree", time.Hour)
	forged, _, err := other.Issue(auth.Identity{Username: "mallory", Role: domain.RoleAdmin})
	require.NoError(t, err)

	router := gin.New()
	router.Use(Session(tokens, nil))
	router.GET("/whoami", identityEcho)

	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"no token", func(*http.Request) {}, "guest"},
		{"cookie", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token})
		}, "alice"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, "alice"},
		{"bearer wins over cookie", func(r *http.Request) {
			r.Header.Set("Authorization", "bearer "+token)
			r.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: forged})
		}, "alice"},
		{"wrong signature", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: forged})
		}, "guest"},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer x.y.z") }, "guest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Body.String())
		})
	}
}

func TestSession_StripsForgedCookie(t *testing.T) {
	tokens := auth.NewTokenManager(testSecret, "mailfree", time.Hour)
	other := auth.NewTokenManager("fedcba9876543210fedcba9876543210", "mailfree", time.Hour)
	forged, _, err := other.Issue(auth.Identity{Username: "mallory", Role: domain.RoleAdmin})
	require.NoError(t, err)

	router := gin.New()
	router.Use(Session(tokens, nil))
	router.GET("/resolve", func(c *gin.Context) {
		theme, _ := c.Cookie("theme")
		if id := auth.Resolve(c.Request); id != nil {
			c.String(http.StatusOK, id.Username+"|"+theme)
			return
		}
		c.String(http.StatusOK, "guest|"+theme)
	})

	req := httptest.NewRequest(http.MethodGet, "/resolve", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: forged})
	req.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "guest|dark", w.Body.String(), "伪造的令牌不能经解码回退生效，其他 Cookie 保留")
}

func TestBodySizeLimit(t *testing.T) {
	router := gin.New()
	router.Use(BodySizeLimit(8))
	router.POST("/echo", func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too large")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("short")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "8", w.Header().Get("X-Max-Body-Size"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("much too long body")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "请求体过大", w.Body.String())
}

func TestRecovery(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	router := gin.New()
	router.Use(Recovery(metrics, nil))
	router.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "服务器内部错误", w.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PanicsTotal))
}

func TestHTTPMetrics_RouteLabel(t *testing.T) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	router := gin.New()
	router.Use(HTTPMetrics(metrics), SecurityHeaders(), RequestLogger(nil))
	router.Any("/api/*path", func(c *gin.Context) {
		c.Set(RouteKey, "/api/email/{id}")
		c.String(http.StatusOK, "ok")
	})
	router.GET("/health/live", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for _, path := range []string{"/api/email/1", "/api/email/2", "/health/live", "/nowhere"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if path != "/nowhere" {
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		}
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/email/{id}", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/health/live", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

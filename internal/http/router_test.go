package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-presence/internal/config"
	"github.com/tbourn/go-chat-presence/internal/domain"
	"github.com/tbourn/go-chat-presence/internal/http/handlers"
	"github.com/tbourn/go-chat-presence/internal/services"
)

// --- stub services behind the real handlers ---

type stubPresence struct{}

func (stubPresence) GetUsersStatus(ctx context.Context, ids []string) (map[string]services.UserStatus, error) {
	return map[string]services.UserStatus{}, nil
}
func (stubPresence) GetUserStatus(userID string) services.UserStatus { return services.UserStatus{} }
func (stubPresence) OnlineUsers() []services.CacheEntry {
	return []services.CacheEntry{{UserID: "u1", Username: "alice"}}
}
func (stubPresence) StatusBatchMax() int { return 50 }

type stubCalls struct{}

func (stubCalls) CallHistory(ctx context.Context, userID string, page, pageSize int) ([]domain.CallSession, int64, error) {
	return []domain.CallSession{}, 0, nil
}

type stubSystem struct{}

func (stubSystem) HealthStatus() services.HealthStatus {
	return services.HealthStatus{Status: services.HealthExcellent}
}
func (stubSystem) Stats() services.Stats         { return services.Stats{} }
func (stubSystem) Dashboard() services.Dashboard { return services.Dashboard{} }

func testDeps() Deps {
	return Deps{
		Handlers: handlers.New(stubPresence{}, stubCalls{}, stubSystem{}, nil),
		Socket:   func(c *gin.Context) { c.String(http.StatusTeapot, "socket") },
	}
}

func testConfig(mut ...func(*config.Config)) config.Config {
	cfg := config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
	for _, m := range mut {
		m(&cfg)
	}
	return cfg
}

func newRouter(cfg config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, testDeps(), cfg)
	return r
}

func serve(r *gin.Engine, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_RootEndpointsAndFallbacks(t *testing.T) {
	r := newRouter(testConfig())

	cases := []struct {
		method, path string
		status       int
		code         string
	}{
		{http.MethodGet, "/health", http.StatusOK, ""},
		{http.MethodGet, "/metrics", http.StatusOK, ""},
		{http.MethodGet, "/ws", http.StatusTeapot, ""},
		{http.MethodGet, "/nope", http.StatusNotFound, handlers.ErrCodeNotFound},
		{http.MethodPost, "/health", http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed},
		{http.MethodGet, "/swagger/index.html", http.StatusNotFound, handlers.ErrCodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := serve(r, tc.method, tc.path, nil)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			if tc.code != "" && !strings.Contains(w.Body.String(), `"code":"`+tc.code+`"`) {
				t.Fatalf("body %s lacks code %s", w.Body.String(), tc.code)
			}
			if w.Header().Get("X-Request-ID") == "" {
				t.Fatalf("every response carries a request id")
			}
		})
	}
}

func TestRegisterRoutes_CORS(t *testing.T) {
	cases := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"allow all without origin", nil, "", "*"},
		{"allow all with origin", nil, "http://any.example", "*"},
		{"allowlisted origin echoed", []string{"http://example.com"}, "http://example.com", "http://example.com"},
		{"unknown origin refused", []string{"http://example.com"}, "http://evil.example", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(testConfig(func(c *config.Config) { c.CORS.AllowedOrigins = tc.origins }))
			hdr := map[string]string{}
			if tc.origin != "" {
				hdr["Origin"] = tc.origin
			}
			w := serve(r, http.MethodGet, "/health", hdr)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tc.want {
				t.Fatalf("ACAO = %q, want %q (status %d)", got, tc.want, w.Code)
			}
		})
	}
}

func TestRegisterRoutes_APIRoutes(t *testing.T) {
	r := newRouter(testConfig())

	cases := []struct {
		path    string
		hdr     map[string]string
		status  int
		body    string
		noStore bool
	}{
		// static segments are not swallowed by /presence/:id
		{"/api/v1/presence/online", nil, http.StatusOK, `"count":1`, true},
		{"/api/v1/presence/u9", nil, http.StatusOK, `"isOnline":false`, true},
		{"/api/v1/presence?ids=u1,u2", nil, http.StatusOK, "{", true},
		{"/api/v1/system/health", nil, http.StatusOK, `"status":"excellent"`, true},
		{"/api/v1/system/dashboard", nil, http.StatusOK, "{", true},
		{"/api/v1/calls", map[string]string{"X-User-ID": "u1"}, http.StatusOK, "", false},
		{"/api/v1/calls", nil, http.StatusUnauthorized, handlers.ErrCodeUnauthorized, false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			w := serve(r, http.MethodGet, tc.path, tc.hdr)
			if w.Code != tc.status || !strings.Contains(w.Body.String(), tc.body) {
				t.Fatalf("%d %s", w.Code, w.Body.String())
			}
			if got := w.Header().Get("Cache-Control") == "no-store"; got != tc.noStore {
				t.Fatalf("no-store = %v, want %v", got, tc.noStore)
			}
		})
	}

	w := serve(r, http.MethodGet, "/api/v1/system/stats", map[string]string{"Accept-Encoding": "gzip"})
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip on the API group, got %q", w.Header().Get("Content-Encoding"))
	}
	if w := serve(r, http.MethodGet, "/health", map[string]string{"Accept-Encoding": "gzip"}); w.Header().Get("Content-Encoding") != "" {
		t.Fatalf("root routes are not compressed")
	}
}

func TestRegisterRoutes_RootBasePathAndSwagger(t *testing.T) {
	r := newRouter(testConfig(func(c *config.Config) {
		c.APIBasePath = "/"
		c.SwaggerEnabled = true
	}))

	w := serve(r, http.MethodGet, "/presence/online", nil)
	if w.Code != http.StatusOK || w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("root-mounted presence: %d %q", w.Code, w.Header().Get("Cache-Control"))
	}
	if w := serve(r, http.MethodGet, "/swagger/index.html", nil); w.Code != http.StatusOK {
		t.Fatalf("swagger ui should be served when enabled: %d", w.Code)
	}
}

func TestRegisterRoutes_HTTPRateLimit(t *testing.T) {
	r := newRouter(testConfig(func(c *config.Config) {
		c.RateRPS = 0.001
		c.RateBurst = 2
	}))

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		if w := serve(r, http.MethodGet, "/health", nil); w.Code != want {
			t.Fatalf("request %d: %d, want %d", i, w.Code, want)
		}
	}
	// the upgrade path is limited per frame by the gateway instead
	if w := serve(r, http.MethodGet, "/ws", nil); w.Code != http.StatusTeapot {
		t.Fatalf("/ws must bypass the HTTP limiter: %d", w.Code)
	}
}

func Test_limitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	for body, want := range map[string]int{"0123456789": http.StatusOK, "0123456789AB": http.StatusRequestEntityTooLarge} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString(body)))
		if w.Code != want {
			t.Fatalf("%d-byte body: %d, want %d", len(body), w.Code, want)
		}
	}
}

func Test_groupWithPrefix_and_joinPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		if w := serve(r, http.MethodGet, path, nil); w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s: %d %q", path, w.Code, w.Body.String())
		}
	}

	joins := map[[2]string]string{
		{"/", "/presence"}:     "/presence",
		{"", "/x"}:             "/x",
		{"/api/v1", "/system"}: "/api/v1/system",
	}
	for in, want := range joins {
		if got := joinPath(in[0], in[1]); got != want {
			t.Errorf("joinPath(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func newTestRouter(limiter *Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(limiter.Middleware())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return router
}

func perform(router *gin.Engine, user string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodGet, "/ping", nil)
	request.Header.Set("X-User", user)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestLimiterBlocksAfterBudget(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := New(client, Config{
		Requests: 2,
		Window:   time.Minute,
		Key:      func(c *gin.Context) string { return c.GetHeader("X-User") },
		Reject: func(c *gin.Context, retryAfter time.Duration) {
			c.JSON(http.StatusTooManyRequests, gin.H{"code": "RATE_LIMIT_EXCEEDED"})
		},
	})
	router := newTestRouter(limiter)

	for attempt := 1; attempt <= 2; attempt++ {
		recorder := perform(router, "alice")
		if recorder.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", attempt, recorder.Code)
		}
		if remaining := recorder.Header().Get(headerRemaining); remaining != strconv.Itoa(2-attempt) {
			t.Fatalf("attempt %d: unexpected remaining %q", attempt, remaining)
		}
	}

	blocked := perform(router, "alice")
	if blocked.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", blocked.Code)
	}
	if blocked.Body.String() != `{"code":"RATE_LIMIT_EXCEEDED"}` {
		t.Fatalf("unexpected body %q", blocked.Body.String())
	}
	if blocked.Header().Get(headerRetryAfter) != "60" {
		t.Fatalf("expected retry after 60s, got %q", blocked.Header().Get(headerRetryAfter))
	}

	if other := perform(router, "bob"); other.Code != http.StatusOK {
		t.Fatalf("other callers must have their own budget, got %d", other.Code)
	}

	server.FastForward(time.Minute + time.Second)
	if recovered := perform(router, "alice"); recovered.Code != http.StatusOK {
		t.Fatalf("expected a fresh window, got %d", recovered.Code)
	}
}

func TestLimiterFailsOpen(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	router := newTestRouter(New(client, Config{Requests: 1, Window: time.Minute}))

	server.Close()
	for attempt := 0; attempt < 3; attempt++ {
		if recorder := perform(router, "alice"); recorder.Code != http.StatusOK {
			t.Fatalf("expected requests to pass while redis is down, got %d", recorder.Code)
		}
	}
}

func TestLimiterWithoutRedisAdmitsEverything(t *testing.T) {
	router := newTestRouter(New(nil, Config{Requests: 1, Window: time.Minute}))
	for attempt := 0; attempt < 3; attempt++ {
		if recorder := perform(router, "alice"); recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}
	}
}

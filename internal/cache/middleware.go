package cache

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	headerCache   = "X-Cache"
	cacheHit      = "HIT"
	cacheMiss     = "MISS"
	maxCachedBody = 1 << 20
)

// UserKeyFunc extracts the caller identity that partitions cached responses.
type UserKeyFunc func(*gin.Context) string

type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(data []byte) (int, error) {
	if w.body.Len() <= maxCachedBody {
		w.body.Write(data)
	}
	return w.ResponseWriter.Write(data)
}

func (w *bodyRecorder) WriteString(data string) (int, error) {
	if w.body.Len() <= maxCachedBody {
		w.body.WriteString(data)
	}
	return w.ResponseWriter.WriteString(data)
}

// Middleware serves successful GET responses from the cache, keyed by user
// and request URI.
func Middleware(store *Cache, ttl time.Duration, userKey UserKeyFunc) gin.HandlerFunc {
	if !store.Enabled() || ttl <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		key := store.Key(userKey(c), c.Request.URL.RequestURI())

		if payload, ok := store.Get(ctx, key); ok {
			var cached cachedResponse
			if err := json.Unmarshal(payload, &cached); err == nil {
				c.Header(headerCache, cacheHit)
				c.Data(cached.Status, cached.ContentType, cached.Body)
				c.Abort()
				return
			}
			store.Invalidate(ctx, key)
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Header(headerCache, cacheMiss)
		c.Next()

		if recorder.Status() != http.StatusOK || recorder.body.Len() > maxCachedBody {
			return
		}
		payload, err := json.Marshal(cachedResponse{
			Status:      recorder.Status(),
			ContentType: recorder.Header().Get("Content-Type"),
			Body:        recorder.body.Bytes(),
		})
		if err != nil {
			return
		}
		store.Set(ctx, key, payload, ttl)
	}
}

// InvalidateOnWrite drops every cached response under pathPrefix, for all
// users, after a successful mutating request.
func InvalidateOnWrite(store *Cache, pathPrefix string) gin.HandlerFunc {
	if !store.Enabled() {
		return func(c *gin.Context) { c.Next() }
	}
	pathPrefix = strings.TrimSuffix(pathPrefix, "/")
	return func(c *gin.Context) {
		c.Next()
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}
		if c.Writer.Status() >= http.StatusBadRequest {
			return
		}
		store.InvalidatePattern(c.Request.Context(), "*:"+pathPrefix+"*")
	}
}

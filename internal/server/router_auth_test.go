package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/properties", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrExpiredSessionToken},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(recorder.Body.String(), string(apierr.CodeUnauthorized)) {
		t.Fatalf("expected unauthorized envelope, got %s", recorder.Body.String())
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/properties", http.NoBody)
	request.Header.Set("Authorization", "Bearer invalid-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: errors.New("signature mismatch")},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entries[0].Level)
	}
}

func TestAuthorizeRequestRejectsUnknownRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/properties", http.NoBody)

	handler := &httpHandler{
		sessions: stubSessionValidator{claims: auth.SessionClaims{UserID: "user-1", UserRole: "JANITOR"}},
		users:    stubUserResolver{err: users.ErrInvalidIdentity},
		logger:   zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for rejected identity, got %d", recorder.Code)
	}
	if _, ok := currentUser(ctx); ok {
		t.Fatalf("expected no user on the context")
	}
}

func TestRouterRequiresSession(testContext *testing.T) {
	env := newRouterEnv(testContext, routerOptions{})

	response := env.do(testContext, http.MethodGet, "/api/properties", "", nil)
	if response.Code != http.StatusUnauthorized || response.envelope(testContext).Code != string(apierr.CodeUnauthorized) {
		testContext.Fatalf("expected 401 envelope, got %d %s", response.Code, response.Body.String())
	}

	request := httptest.NewRequest(http.MethodGet, "/api/properties", http.NoBody)
	request.AddCookie(&http.Cookie{Name: testCookieName, Value: sessionToken(testContext, "manager-1", users.RolePropertyManager)})
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		testContext.Fatalf("expected cookie session to authenticate, got %d %s", recorder.Code, recorder.Body.String())
	}

	if response := env.do(testContext, http.MethodGet, "/healthz", "", nil); response.Code != http.StatusOK {
		testContext.Fatalf("expected open health check, got %d", response.Code)
	}
}

func TestInternalErrorsAreGenericOutsideDevelopment(testContext *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	env := newRouterEnv(testContext, routerOptions{logger: zap.New(core)})
	env.seedProperty(testContext, "property-1", "manager-1")
	if err := env.db.Migrator().DropTable("property_owners"); err != nil {
		testContext.Fatalf("failed to drop owners table: %v", err)
	}
	manager := sessionToken(testContext, "manager-1", users.RolePropertyManager)

	response := env.do(testContext, http.MethodGet, "/api/properties/property-1", manager, nil)
	if response.Code != http.StatusInternalServerError {
		testContext.Fatalf("expected 500, got %d %s", response.Code, response.Body.String())
	}
	envelope := response.envelope(testContext)
	if envelope.Code != string(apierr.CodeInternal) || envelope.Error != "Internal server error" {
		testContext.Fatalf("expected generic message, got %+v", envelope)
	}
	if logs.FilterMessage("request failed").Len() != 1 {
		testContext.Fatalf("expected the failure to be logged once, got %d", logs.FilterMessage("request failed").Len())
	}

	devEnv := newRouterEnv(testContext, routerOptions{development: true})
	devEnv.seedProperty(testContext, "property-1", "manager-1")
	if err := devEnv.db.Migrator().DropTable("property_owners"); err != nil {
		testContext.Fatalf("failed to drop owners table: %v", err)
	}
	response = devEnv.do(testContext, http.MethodGet, "/api/properties/property-1", manager, nil)
	if envelope := response.envelope(testContext); envelope.Error == "Internal server error" {
		testContext.Fatalf("expected detailed message in development, got %+v", envelope)
	}
}

func TestCORSMiddlewareAllowsCredentialedPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware([]string{"https://app.example.com"}))
	router.PATCH("/api/properties/p-1", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/api/properties/p-1", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), "authorization") {
		t.Fatalf("expected Access-Control-Allow-Headers to include Authorization, got %q", allowHeaders)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}

	request = httptest.NewRequest(http.MethodOptions, "/api/properties/p-1", http.NoBody)
	request.Header.Set("Origin", "https://evil.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	if recorder.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected foreign origin to be refused")
	}
}

type stubSessionValidator struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

type stubUserResolver struct {
	user users.User
	err  error
}

func (s stubUserResolver) Resolve(context.Context, auth.SessionClaims) (users.User, error) {
	return s.user, s.err
}

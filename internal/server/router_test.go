package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jobmesh/platform/internal/auth"
	"github.com/jobmesh/platform/internal/coordinator"
	"github.com/jobmesh/platform/internal/platform/logger"
	"github.com/jobmesh/platform/internal/store"
)

type routerTestPrincipalStore struct{}

func (routerTestPrincipalStore) Lookup(_ context.Context, _ string) (*auth.Principal, error) {
	return nil, nil
}

func newTestRouterEngine(t *testing.T, adminToken string) http.Handler {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := store.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(key, "kid-1", "jobmesh-coordinator", auth.MinTokenLifetime)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	verifier := auth.NewTokenVerifier("jobmesh-coordinator", map[string]*rsa.PublicKey{"kid-1": &key.PublicKey})
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	limiter := auth.NewInMemoryRateLimiter(auth.DefaultFailureThreshold, auth.DefaultWindow, auth.DefaultBackoffSchedule)
	authSvc := auth.NewService(issuer, verifier, routerTestPrincipalStore{}, limiter, "", log)

	jobs := store.NewJobStore(gdb)
	workers := store.NewWorkerStore(gdb)
	results := store.NewResultStore(gdb)
	idemp := store.NewIdempotencyStore(gdb)
	dbGate := store.NewDB(gdb)
	cfg := coordinator.Config{HeartbeatIntervalSec: 30, Queue: "default"}
	svc := coordinator.NewService(jobs, workers, results, idemp, dbGate, authSvc, nil, log, cfg)

	return NewRouter(RouterConfig{
		AuthHandler:   coordinator.NewAuthHandler(authSvc, auth.PublicJWKS("kid-1", &key.PublicKey)),
		BotsHandler:   coordinator.NewBotsHandler(svc),
		JobsHandler:   coordinator.NewJobsHandler(svc),
		AdminHandler:  coordinator.NewAdminHandler(svc, jobs, workers, dbGate, cfg),
		HealthHandler: coordinator.NewHealthHandler(dbGate),
		AuthSvc:       authSvc,
		AdminToken:    adminToken,
		Metrics:       nil,
		Log:           log,
	})
}

func TestRouter_HealthzIsUnauthenticated(t *testing.T) {
	r := newTestRouterEngine(t, "admin-secret")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouter_AdminRouteRejectsMissingToken(t *testing.T) {
	r := newTestRouterEngine(t, "admin-secret")
	req := httptest.NewRequest(http.MethodPost, "/admin/cleanup", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an admin route without a token, got %d", rec.Code)
	}
}

func TestRouter_AdminRouteAllowsConfiguredToken(t *testing.T) {
	r := newTestRouterEngine(t, "admin-secret")
	req := httptest.NewRequest(http.MethodPost, "/admin/cleanup", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with the correct admin token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_RegisterRequiresBearerScope(t *testing.T) {
	r := newTestRouterEngine(t, "admin-secret")
	req := httptest.NewRequest(http.MethodPost, "/v1/bots/register", nil)
	req.Header.Set("Idempotency-Key", "5e7d6f2a-4c1a-4f2a-9c1a-4f2a9c1a4f2a")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rec.Code)
	}
}

func TestRouter_JobsClaimIsReachableWithoutAuth(t *testing.T) {
	r := newTestRouterEngine(t, "admin-secret")
	req := httptest.NewRequest(http.MethodPost, "/jobs/claim", strings.NewReader(`{"bot_id":"00000000-0000-0000-0000-000000000000"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code == http.StatusNotFound {
		t.Fatal("expected /jobs/claim to be routed")
	}
}

package coordinator

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jobmesh/platform/internal/auth"
	"github.com/jobmesh/platform/internal/platform/apierr"
	"github.com/jobmesh/platform/internal/platform/logger"
	"github.com/jobmesh/platform/internal/store"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type staticPrincipalStore struct {
	byBotKey map[string]*auth.Principal
}

func (s *staticPrincipalStore) Lookup(_ context.Context, botKey string) (*auth.Principal, error) {
	return s.byBotKey[botKey], nil
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	gdb := newTestDB(t)

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
	authSvc := auth.NewService(issuer, verifier, &staticPrincipalStore{byBotKey: map[string]*auth.Principal{}}, limiter, "", log)

	jobs := store.NewJobStore(gdb)
	workers := store.NewWorkerStore(gdb)
	results := store.NewResultStore(gdb)
	idemp := store.NewIdempotencyStore(gdb)
	dbGate := store.NewDB(gdb)

	return NewService(jobs, workers, results, idemp, dbGate, authSvc, nil, log, cfg)
}

func TestRegister_AssignsSingleOperationAndIsIdempotent(t *testing.T) {
	svc := newTestService(t, Config{Region: "us-east", Version: "1.0.0", Queue: "default", HeartbeatIntervalSec: 30})
	key := uuid.NewString()
	req := RegisterRequest{
		BotKey:       "bot-alpha",
		Agent:        AgentInfo{Version: "1.0.0"},
		Capabilities: Capabilities{Operations: []string{"sum"}, MaxConcurrency: 2},
	}

	resp, replayed, err := svc.Register(context.Background(), key, req)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if replayed {
		t.Fatal("expected the first registration to not be a replay")
	}
	if resp.Assignment.Operation == nil || *resp.Assignment.Operation != "sum" {
		t.Fatalf("expected assigned operation \"sum\", got %+v", resp.Assignment.Operation)
	}

	resp2, replayed2, err := svc.Register(context.Background(), key, req)
	if err != nil {
		t.Fatalf("register replay: %v", err)
	}
	if !replayed2 {
		t.Fatal("expected the second call with the same idempotency key to replay")
	}
	if resp2.BotID != resp.BotID {
		t.Fatalf("expected the replayed response to match the original bot id")
	}
}

func TestRegister_RejectsUnknownOperation(t *testing.T) {
	svc := newTestService(t, Config{HeartbeatIntervalSec: 30})
	req := RegisterRequest{BotKey: "bot-alpha", Capabilities: Capabilities{Operations: []string{"exponentiate"}}}

	_, _, err := svc.Register(context.Background(), uuid.NewString(), req)
	if err == nil {
		t.Fatal("expected an unknown operation to be rejected")
	}
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Code != string(apierr.Validation) {
		t.Fatalf("expected a validation apierr, got %v (%T)", err, err)
	}
}

func TestRegister_RejectsMalformedIdempotencyKey(t *testing.T) {
	svc := newTestService(t, Config{HeartbeatIntervalSec: 30})
	req := RegisterRequest{BotKey: "bot-alpha", Capabilities: Capabilities{Operations: []string{"sum"}}}

	_, _, err := svc.Register(context.Background(), "not-a-uuid", req)
	if err == nil {
		t.Fatal("expected a non-uuid idempotency key to be rejected")
	}
}

func TestClaimStartComplete_FullLifecycle(t *testing.T) {
	svc := newTestService(t, Config{HeartbeatIntervalSec: 30})
	req := RegisterRequest{BotKey: "bot-alpha", Capabilities: Capabilities{Operations: []string{"sum"}}}
	resp, _, err := svc.Register(context.Background(), uuid.NewString(), req)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	botID, err := uuid.Parse(resp.BotID)
	if err != nil {
		t.Fatalf("parse bot id: %v", err)
	}

	if _, err := svc.Populate(context.Background(), PopulateRequest{Count: 1, Operations: []string{"sum"}, MinOperand: 1, MaxOperand: 10}); err != nil {
		t.Fatalf("populate: %v", err)
	}

	job, err := svc.Claim(context.Background(), botID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job to be claimed")
	}

	started, err := svc.Start(context.Background(), job.ID, botID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != "processing" {
		t.Fatalf("expected job processing, got %s", started.Status)
	}

	completedJob, result, err := svc.Complete(context.Background(), job.ID, botID, job.A+job.B, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completedJob.Status != "succeeded" {
		t.Fatalf("expected job succeeded, got %s", completedJob.Status)
	}
	if result.Value != job.A+job.B {
		t.Fatalf("expected result value %d, got %d", job.A+job.B, result.Value)
	}
}

func TestSoftDeleteWorker_ReleasesInFlightJob(t *testing.T) {
	svc := newTestService(t, Config{HeartbeatIntervalSec: 30})
	resp, _, err := svc.Register(context.Background(), uuid.NewString(), RegisterRequest{
		BotKey:       "bot-alpha",
		Capabilities: Capabilities{Operations: []string{"sum"}},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	botID, _ := uuid.Parse(resp.BotID)

	if _, err := svc.Populate(context.Background(), PopulateRequest{Count: 1, Operations: []string{"sum"}, MinOperand: 1, MaxOperand: 10}); err != nil {
		t.Fatalf("populate: %v", err)
	}
	job, err := svc.Claim(context.Background(), botID)
	if err != nil || job == nil {
		t.Fatalf("claim: %v (%v)", err, job)
	}

	if err := svc.SoftDeleteWorker(context.Background(), botID); err != nil {
		t.Fatalf("soft delete worker: %v", err)
	}

	reloaded, err := svc.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if reloaded.Status != "pending" {
		t.Fatalf("expected the in-flight job released back to pending, got %s", reloaded.Status)
	}
}

func TestAssignOperation_RejectsUnknownOperation(t *testing.T) {
	svc := newTestService(t, Config{HeartbeatIntervalSec: 30})
	resp, _, err := svc.Register(context.Background(), uuid.NewString(), RegisterRequest{
		BotKey:       "bot-alpha",
		Capabilities: Capabilities{Operations: []string{"sum"}},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	botID, _ := uuid.Parse(resp.BotID)
	bogus := "exponentiate"

	err = svc.AssignOperation(context.Background(), botID, &bogus)
	if err == nil {
		t.Fatal("expected an unknown operation to be rejected")
	}
}

package recovery

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jobmesh/platform/internal/domain"
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

func newTestManager(t *testing.T, cfg Config) (*Manager, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	m := NewManager(store.NewJobStore(db), store.NewWorkerStore(db), store.NewIdempotencyStore(db), nil, nil, log, cfg)
	return m, db
}

func TestTickAutoPopulate_InsertsConfiguredBatchSize(t *testing.T) {
	m, db := newTestManager(t, Config{AutoPopulateBatchSize: 4})
	inserted, err := m.tickAutoPopulate(context.Background())
	if err != nil {
		t.Fatalf("tick auto populate: %v", err)
	}
	if inserted != 4 {
		t.Fatalf("expected 4 jobs inserted, got %d", inserted)
	}
	var count int64
	if err := db.Model(&domain.Job{}).Count(&count).Error; err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected 4 rows in the jobs table, got %d", count)
	}
}

func TestTickAutoPopulate_CyclesThroughConfiguredOperations(t *testing.T) {
	m, db := newTestManager(t, Config{
		AutoPopulateBatchSize:  3,
		AutoPopulateOperations: []string{"sum", "multiply"},
	})
	if _, err := m.tickAutoPopulate(context.Background()); err != nil {
		t.Fatalf("tick auto populate: %v", err)
	}
	var jobs []domain.Job
	if err := db.Find(&jobs).Error; err != nil {
		t.Fatalf("find jobs: %v", err)
	}
	want := []string{"sum", "multiply", "sum"}
	if len(jobs) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(jobs))
	}
	got := map[string]int{}
	for _, j := range jobs {
		got[j.Operation]++
	}
	if got["sum"] != 2 || got["multiply"] != 1 {
		t.Fatalf("expected operations cycled as %v (2 sum, 1 multiply), got %v", want, got)
	}
}

func TestTickIdempotencyGC_RemovesOnlyExpiredRecords(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	if err := m.idemp.Put(m.dbc(context.Background()), "expired", 200, []byte("{}"), -time.Minute); err != nil {
		t.Fatalf("put expired: %v", err)
	}
	if err := m.idemp.Put(m.dbc(context.Background()), "fresh", 200, []byte("{}"), time.Hour); err != nil {
		t.Fatalf("put fresh: %v", err)
	}

	removed, err := m.tickIdempotencyGC(context.Background())
	if err != nil {
		t.Fatalf("tick idempotency gc: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 record removed, got %d", removed)
	}
}

func TestTickStuckProcessing_FailsZombieJobAndLeavesFlagObservableForOneTick(t *testing.T) {
	m, db := newTestManager(t, Config{
		ProcessingJobTimeout:   time.Minute,
		OrphanHeartbeatTimeout: 5 * time.Minute,
		HealthFlagMinDwell:     time.Minute,
	})

	job := domain.NewJob(1, 1, "sum")
	if err := m.jobs.CreateBatch(m.dbc(context.Background()), []*domain.Job{job}); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	worker, err := m.workers.Upsert(m.dbc(context.Background()), "bot-zombie", nil)
	if err != nil {
		t.Fatalf("upsert worker: %v", err)
	}
	claimed, err := m.jobs.ClaimNext(m.dbc(context.Background()), worker.ID, nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := m.jobs.TransitionStart(m.dbc(context.Background()), claimed.ID, worker.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := db.Model(&domain.Job{}).Where("id = ?", claimed.ID).
		Update("started_at", time.Now().UTC().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("backdate started_at: %v", err)
	}

	repaired, err := m.tickStuckProcessing(context.Background())
	if err != nil {
		t.Fatalf("tick stuck processing: %v", err)
	}
	if repaired != 1 {
		t.Fatalf("expected exactly 1 repair (the failed job; the flag just set is not yet old enough to clear), got %d", repaired)
	}

	reloadedJob, err := m.jobs.GetByID(m.dbc(context.Background()), claimed.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if reloadedJob.Status != domain.JobFailed {
		t.Fatalf("expected job failed, got %s", reloadedJob.Status)
	}

	reloadedWorker, err := m.workers.GetByID(m.dbc(context.Background()), worker.ID)
	if err != nil {
		t.Fatalf("reload worker: %v", err)
	}
	if reloadedWorker.HealthStatus != domain.HealthPotentiallyStuck {
		t.Fatalf("expected the worker's health flag to remain observable immediately after L3 sets it, got %s", reloadedWorker.HealthStatus)
	}
	if reloadedWorker.HealthFlaggedAt == nil {
		t.Fatal("expected HealthFlaggedAt to be stamped when the flag is set")
	}
}

func TestTickStuckProcessing_ClearsFlagOnceDwellElapses(t *testing.T) {
	m, db := newTestManager(t, Config{
		ProcessingJobTimeout:   time.Minute,
		OrphanHeartbeatTimeout: 5 * time.Minute,
		HealthFlagMinDwell:     time.Minute,
	})

	worker, err := m.workers.Upsert(m.dbc(context.Background()), "bot-resolved", nil)
	if err != nil {
		t.Fatalf("upsert worker: %v", err)
	}
	flaggedAt := time.Now().UTC().Add(-time.Hour)
	if err := db.Model(&domain.Worker{}).Where("id = ?", worker.ID).Updates(map[string]interface{}{
		"health_status":     domain.HealthPotentiallyStuck,
		"health_flagged_at": flaggedAt,
	}).Error; err != nil {
		t.Fatalf("seed stale flag: %v", err)
	}

	repaired, err := m.tickStuckProcessing(context.Background())
	if err != nil {
		t.Fatalf("tick stuck processing: %v", err)
	}
	if repaired != 1 {
		t.Fatalf("expected exactly 1 repair (the cleared flag), got %d", repaired)
	}

	reloadedWorker, err := m.workers.GetByID(m.dbc(context.Background()), worker.ID)
	if err != nil {
		t.Fatalf("reload worker: %v", err)
	}
	if reloadedWorker.HealthStatus != domain.HealthNormal {
		t.Fatalf("expected the worker's health flag cleared once it has stood past the dwell window, got %s", reloadedWorker.HealthStatus)
	}
	if reloadedWorker.HealthFlaggedAt != nil {
		t.Fatal("expected HealthFlaggedAt to be cleared alongside the health status")
	}
}

func TestTickStuckProcessing_HeartbeatClearsFlagImmediately(t *testing.T) {
	m, db := newTestManager(t, Config{
		ProcessingJobTimeout:   time.Minute,
		OrphanHeartbeatTimeout: 5 * time.Minute,
		HealthFlagMinDwell:     time.Minute,
	})

	worker, err := m.workers.Upsert(m.dbc(context.Background()), "bot-heartbeats", nil)
	if err != nil {
		t.Fatalf("upsert worker: %v", err)
	}
	flaggedAt := time.Now().UTC()
	if err := db.Model(&domain.Worker{}).Where("id = ?", worker.ID).Updates(map[string]interface{}{
		"health_status":     domain.HealthPotentiallyStuck,
		"health_flagged_at": flaggedAt,
	}).Error; err != nil {
		t.Fatalf("seed fresh flag: %v", err)
	}

	if _, err := m.workers.Heartbeat(m.dbc(context.Background()), worker.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	reloadedWorker, err := m.workers.GetByID(m.dbc(context.Background()), worker.ID)
	if err != nil {
		t.Fatalf("reload worker: %v", err)
	}
	if reloadedWorker.HealthStatus != domain.HealthNormal {
		t.Fatalf("expected a successful heartbeat to clear the flag immediately, got %s", reloadedWorker.HealthStatus)
	}
}

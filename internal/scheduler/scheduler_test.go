package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"telbill/internal/batch"
	"telbill/internal/config"
	"telbill/internal/notifications"
	"telbill/internal/process"
	"telbill/internal/tasks"
	"telbill/internal/testsupport"
)

type recordingEnqueuer struct {
	mu     sync.Mutex
	queued []tasks.StageJob
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, queue tasks.Queue, payload any) (*tasks.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := payload.(tasks.StageJob); ok {
		r.queued = append(r.queued, job)
	}
	return &tasks.Task{ID: "queued", Queue: queue}, nil
}

func (r *recordingEnqueuer) jobs() []tasks.StageJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tasks.StageJob(nil), r.queued...)
}

func newScheduler(t *testing.T, opts ...testsupport.ConfigOption) (*Scheduler, *process.Store, *recordingEnqueuer, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	notifier := notifications.NewService(cfg)
	coordinator := batch.New(cfg.Workflow.PoolWidth, func() (*process.Store, error) {
		return process.Open(cfg)
	}, notifier, nil)
	enqueuer := &recordingEnqueuer{}
	return New(cfg, store, coordinator, enqueuer, nil), store, enqueuer, cfg
}

func TestMaterializationIsIdempotent(t *testing.T) {
	sched, store, _, _ := newScheduler(t)
	testsupport.NewRegistration(t, store, "acct-200", "CLARO")
	testsupport.NewRegistration(t, store, "acct-201", "TIM")

	count, err := sched.RunMonthlyMaterialization(context.Background(), "2026-08")
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	// A second pass converges on the same processes and creates nothing.
	count, err = sched.RunMonthlyMaterialization(context.Background(), "2026-08")
	if err != nil {
		t.Fatalf("second materialize: %v", err)
	}
	if count != 0 {
		t.Fatalf("second pass count = %d, want 0 created", count)
	}
	procs, err := store.ListProcessesByStatus(context.Background(), process.StatusCreated)
	if err != nil {
		t.Fatalf("list processes: %v", err)
	}
	if len(procs) != 2 {
		t.Fatalf("processes = %d, want 2", len(procs))
	}
}

func TestMaterializationDoesNotResurrectFailedProcesses(t *testing.T) {
	sched, store, _, _ := newScheduler(t)
	reg := testsupport.NewRegistration(t, store, "acct-202", "OI")
	proc := testsupport.NewProcess(t, store, reg.Hash, "2026-08")
	proc.Status = process.StatusFailed
	if err := store.UpdateProcess(context.Background(), proc); err != nil {
		t.Fatalf("update process: %v", err)
	}

	if _, err := sched.RunMonthlyMaterialization(context.Background(), "2026-08"); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	after, err := store.GetProcess(context.Background(), proc.ID)
	if err != nil {
		t.Fatalf("get process: %v", err)
	}
	if after.Status != process.StatusFailed {
		t.Fatalf("status = %s, want %s", after.Status, process.StatusFailed)
	}
}

func TestMaterializationRejectsBadPeriod(t *testing.T) {
	sched, _, _, _ := newScheduler(t)
	if _, err := sched.RunMonthlyMaterialization(context.Background(), "2026-13"); err == nil {
		t.Fatal("expected invalid period error")
	}
}

func TestPendingDispatchQueuesAndMarksPending(t *testing.T) {
	sched, store, enqueuer, _ := newScheduler(t)
	reg := testsupport.NewRegistration(t, store, "acct-203", "VIVO")
	proc := testsupport.NewProcess(t, store, reg.Hash, "2026-08")

	queued, err := sched.RunPendingDispatch(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if queued != 1 {
		t.Fatalf("queued = %d, want 1", queued)
	}
	jobs := enqueuer.jobs()
	if len(jobs) != 1 || jobs[0].ProcessID != proc.ID || jobs[0].Stage != string(process.StageDownload) {
		t.Fatalf("jobs = %+v", jobs)
	}

	after, err := store.GetProcess(context.Background(), proc.ID)
	if err != nil {
		t.Fatalf("get process: %v", err)
	}
	if after.Status != process.StatusPending {
		t.Fatalf("status = %s, want %s", after.Status, process.StatusPending)
	}

	// Pending processes are re-dispatched without another state change.
	if queued, err = sched.RunPendingDispatch(context.Background()); err != nil || queued != 1 {
		t.Fatalf("redispatch queued = %d, err = %v", queued, err)
	}
}

func TestPendingDispatchRequeuesApprovedProcesses(t *testing.T) {
	sched, store, enqueuer, _ := newScheduler(t)
	reg := testsupport.NewRegistration(t, store, "acct-205", "CLARO")
	proc := testsupport.NewProcess(t, store, reg.Hash, "2026-08")
	proc.Status = process.StatusApproved
	if err := store.UpdateProcess(context.Background(), proc); err != nil {
		t.Fatalf("update process: %v", err)
	}

	queued, err := sched.RunPendingDispatch(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if queued != 1 {
		t.Fatalf("queued = %d, want 1", queued)
	}
	jobs := enqueuer.jobs()
	if len(jobs) != 1 || jobs[0].ProcessID != proc.ID || jobs[0].Stage != string(process.StageUpload) {
		t.Fatalf("jobs = %+v, want one upload job", jobs)
	}

	// The approval stays committed; dispatch only re-queues the upload.
	after, err := store.GetProcess(context.Background(), proc.ID)
	if err != nil {
		t.Fatalf("get process: %v", err)
	}
	if after.Status != process.StatusApproved {
		t.Fatalf("status = %s, want %s", after.Status, process.StatusApproved)
	}
}

func scheduleTask(t *testing.T, job tasks.ScheduleJob) *tasks.Task {
	t.Helper()
	payload, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	return &tasks.Task{ID: "s1", Queue: tasks.QueueSchedule, Payload: payload, Attempt: 1, MaxAttempts: 3}
}

func TestScheduleTaskRunsRequestedPass(t *testing.T) {
	sched, store, _, _ := newScheduler(t)
	testsupport.NewRegistration(t, store, "acct-206", "VIVO")

	task := scheduleTask(t, tasks.ScheduleJob{Pass: tasks.PassMaterialize, Period: "2026-08"})
	if err := sched.HandleScheduleTask(context.Background(), task); err != nil {
		t.Fatalf("handle schedule task: %v", err)
	}

	procs, err := store.ListProcessesByStatus(context.Background(), process.StatusCreated)
	if err != nil {
		t.Fatalf("list processes: %v", err)
	}
	if len(procs) != 1 || procs[0].Period != "2026-08" {
		t.Fatalf("processes = %+v, want one for 2026-08", procs)
	}
}

func TestScheduleTaskRejectsUnknownPass(t *testing.T) {
	sched, _, _, _ := newScheduler(t)

	err := sched.HandleScheduleTask(context.Background(), scheduleTask(t, tasks.ScheduleJob{Pass: "defragment"}))
	if err == nil {
		t.Fatal("expected error for unknown pass")
	}
	if !process.Terminal(err) {
		t.Fatalf("err = %v should be terminal", err)
	}
}

func TestStaleSweepResetsProcesses(t *testing.T) {
	sched, store, _, _ := newScheduler(t, func(cfg *config.Config) {
		cfg.Workflow.StaleAfterMinutes = 0
	})
	reg := testsupport.NewRegistration(t, store, "acct-204", "EMBRATEL")
	proc := testsupport.NewProcess(t, store, reg.Hash, "2026-08")
	proc.Status = process.StatusRunning
	if err := store.UpdateProcess(context.Background(), proc); err != nil {
		t.Fatalf("update process: %v", err)
	}
	if _, err := store.InsertExecution(context.Background(), proc.ID, "session-stale-1", process.StageDownload); err != nil {
		t.Fatalf("insert execution: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	reset, err := sched.RunStaleSweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reset != 1 {
		t.Fatalf("reset = %d, want 1", reset)
	}

	after, err := store.GetProcess(context.Background(), proc.ID)
	if err != nil {
		t.Fatalf("get process: %v", err)
	}
	if after.Status != process.StatusCreated {
		t.Fatalf("status = %s, want %s", after.Status, process.StatusCreated)
	}
	execs, err := store.ListExecutions(context.Background(), proc.ID)
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != process.ExecutionFailed {
		t.Fatalf("executions = %+v", execs)
	}
}

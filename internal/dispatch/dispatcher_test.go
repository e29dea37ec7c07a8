package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/codernetes/internal/events"
	"github.com/yungbote/codernetes/internal/repos"
	"github.com/yungbote/codernetes/internal/repos/testutil"
	"github.com/yungbote/codernetes/internal/types"
	"github.com/yungbote/codernetes/internal/ws"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (f *fakeConn) Close() error { return nil }

// assignments returns the decoded job.assign frames, skipping welcome and
// chat traffic.
func (f *fakeConn) assignments(tb testing.TB) []map[string]interface{} {
	tb.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]interface{}
	for _, frame := range f.frames {
		var decoded map[string]interface{}
		if err := json.Unmarshal(frame, &decoded); err != nil {
			tb.Fatalf("decode frame: %v", err)
		}
		if decoded["type"] == ws.TypeAssign {
			out = append(out, decoded)
		}
	}
	return out
}

type fixture struct {
	hub     *ws.Hub
	jobRepo repos.JobRepo
	disp    *Dispatcher
}

func newFixture(tb testing.TB) *fixture {
	tb.Helper()
	db := testutil.DB(tb)
	log := testutil.Logger(tb)
	hub := ws.NewHub(repos.NewNodeRepo(db, log), events.NewNoopBus(), log)
	jobRepo := repos.NewJobRepo(db, log)
	disp := NewDispatcher(hub, jobRepo, events.NewNoopBus(),
		func() time.Duration { return 2 * time.Second },
		func() string { return "/tmp/jobs" },
		log)
	return &fixture{hub: hub, jobRepo: jobRepo, disp: disp}
}

func (f *fixture) connectNode(tb testing.TB, tags []string) (*ws.Client, *fakeConn) {
	tb.Helper()
	conn := &fakeConn{}
	client, err := f.hub.Register(context.Background(), conn)
	if err != nil {
		tb.Fatalf("Register: %v", err)
	}
	if tags != nil {
		f.hub.UpdateNodeRecord(context.Background(), client, ws.NodeUpdate{Tags: tags})
	}
	return client, conn
}

func (f *fixture) seedJob(tb testing.TB, status types.JobStatus, target *string, tags []string, createdAt time.Time) *types.Job {
	tb.Helper()
	job := &types.Job{
		ID:            uuid.New().String(),
		Prompt:        "do the thing",
		Status:        status,
		TargetNodeID:  target,
		RequestedTags: datatypes.NewJSONSlice(tags),
		CreatedAt:     createdAt,
	}
	if err := f.jobRepo.Upsert(context.Background(), nil, job); err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return job
}

func TestDispatchDirectedJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	target, targetConn := f.connectNode(t, nil)
	_, otherConn := f.connectNode(t, nil)

	job := f.seedJob(t, types.JobStatusQueued, &target.ID, nil, time.Now().UTC())

	f.disp.DispatchOnce(ctx)

	got := targetConn.assignments(t)
	if len(got) != 1 {
		t.Fatalf("target assignments: want 1, got %d", len(got))
	}
	if got[0]["job_id"] != job.ID {
		t.Fatalf("assignment job_id: want %s, got %v", job.ID, got[0]["job_id"])
	}
	if got[0]["workdir"] != "/tmp/jobs/"+job.ID {
		t.Fatalf("assignment workdir: got %v", got[0]["workdir"])
	}
	if len(otherConn.assignments(t)) != 0 {
		t.Fatalf("directed job must not reach other nodes")
	}

	stored, err := f.jobRepo.GetByID(ctx, nil, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != types.JobStatusRunning {
		t.Fatalf("job status: want running, got %s", stored.Status)
	}
	if stored.TargetNodeID == nil || *stored.TargetNodeID != target.ID {
		t.Fatalf("job target: want %s, got %v", target.ID, stored.TargetNodeID)
	}
}

func TestDispatchTagSubsetMatching(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, gpuConn := f.connectNode(t, []string{"gpu", "linux"})
	_, cpuConn := f.connectNode(t, []string{"linux"})

	gpuJob := f.seedJob(t, types.JobStatusPending, nil, []string{"gpu"}, time.Now().UTC())

	f.disp.DispatchOnce(ctx)

	if got := gpuConn.assignments(t); len(got) != 1 || got[0]["job_id"] != gpuJob.ID {
		t.Fatalf("gpu node should receive the gpu job, got %v", got)
	}
	if len(cpuConn.assignments(t)) != 0 {
		t.Fatalf("cpu node must not receive a gpu job")
	}
}

func TestDispatchNoMatchLeavesJobPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, conn := f.connectNode(t, []string{"linux"})
	job := f.seedJob(t, types.JobStatusPending, nil, []string{"windows"}, time.Now().UTC())

	f.disp.DispatchOnce(ctx)

	if len(conn.assignments(t)) != 0 {
		t.Fatalf("job with unmatched tags must not dispatch")
	}
	stored, err := f.jobRepo.GetByID(ctx, nil, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != types.JobStatusPending {
		t.Fatalf("job status: want pending, got %s", stored.Status)
	}
}

func TestDispatchSkipsBusyNode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	client, conn := f.connectNode(t, nil)
	f.hub.UpdateNodeRecord(ctx, client, ws.NodeUpdate{Status: types.NodeStatusBusy})

	f.seedJob(t, types.JobStatusPending, nil, nil, time.Now().UTC())

	f.disp.DispatchOnce(ctx)

	if len(conn.assignments(t)) != 0 {
		t.Fatalf("busy node must not receive work")
	}
}

func TestDispatchOldestEligibleFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, conn := f.connectNode(t, nil)

	base := time.Now().UTC().Add(-time.Hour)
	older := f.seedJob(t, types.JobStatusPending, nil, nil, base)
	f.seedJob(t, types.JobStatusPending, nil, nil, base.Add(time.Minute))

	f.disp.DispatchOnce(ctx)

	got := conn.assignments(t)
	if len(got) != 1 {
		t.Fatalf("one node takes one job per pass, got %d", len(got))
	}
	if got[0]["job_id"] != older.ID {
		t.Fatalf("oldest job should dispatch first, got %v", got[0]["job_id"])
	}
}

func TestDispatchMarksNodeBusy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	client, _ := f.connectNode(t, nil)
	f.seedJob(t, types.JobStatusPending, nil, nil, time.Now().UTC())
	f.seedJob(t, types.JobStatusPending, nil, nil, time.Now().UTC())

	f.disp.DispatchOnce(ctx)
	if client.Status() != types.NodeStatusBusy {
		t.Fatalf("node status after dispatch: want busy, got %s", client.Status())
	}

	// Second pass: the busy node must not pick up the remaining job.
	f.disp.DispatchOnce(ctx)
	remaining, err := f.jobRepo.ListByStatus(ctx, nil, []types.JobStatus{types.JobStatusPending}, 10)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("want 1 job still pending, got %d", len(remaining))
	}
}

package dispatch

import (
	"context"
	"path"
	"time"

	"github.com/yungbote/codernetes/internal/events"
	"github.com/yungbote/codernetes/internal/logger"
	"github.com/yungbote/codernetes/internal/repos"
	"github.com/yungbote/codernetes/internal/types"
	"github.com/yungbote/codernetes/internal/ws"
)

// Dispatcher matches queued/pending work to available nodes on a fixed
// interval. Correctness rests on JobRepo.Assign: two passes racing for the
// same job see exactly one true, so at most one assignment envelope goes out.
type Dispatcher struct {
	log         *logger.Logger
	hub         *ws.Hub
	jobs        repos.JobRepo
	bus         events.Bus
	interval    func() time.Duration
	workdirRoot func() string
}

func NewDispatcher(hub *ws.Hub, jobs repos.JobRepo, bus events.Bus, interval func() time.Duration, workdirRoot func() string, baseLog *logger.Logger) *Dispatcher {
	return &Dispatcher{
		log:         baseLog.With("component", "Dispatcher"),
		hub:         hub,
		jobs:        jobs,
		bus:         bus,
		interval:    interval,
		workdirRoot: workdirRoot,
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.interval()
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Debug("Dispatcher stopped")
			return
		case <-ticker.C:
			d.DispatchOnce(ctx)
		}
	}
}

// DispatchOnce runs a single matching pass. Store errors log and leave the
// rest of the tick alone; a failed send skips only the affected node.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	candidates := d.availableClients()
	if len(candidates) == 0 {
		return
	}

	jobs, err := d.jobs.ListByStatus(ctx, nil, []types.JobStatus{types.JobStatusQueued, types.JobStatusPending}, 200)
	if err != nil {
		d.log.Error("Failed to load pending jobs", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	for _, client := range candidates {
		job := selectJobForClient(client, jobs)
		if job == nil {
			continue
		}

		assigned, err := d.jobs.Assign(ctx, nil, job.ID, client.ID)
		if err != nil {
			d.log.Error("Assign failed", "job_id", job.ID, "node_id", client.ID, "error", err)
			continue
		}
		if !assigned {
			// Another pass or a racing status report won; drop the candidate.
			jobs = removeJob(jobs, job.ID)
			continue
		}

		d.log.Info("Dispatching job", "job_id", job.ID, "node_id", client.ID)
		if err := d.sendAssignment(ctx, client, job); err != nil {
			d.log.Warn("Assignment send failed", "job_id", job.ID, "node_id", client.ID, "error", err)
		}
		_ = d.bus.Publish(ctx, events.Event{
			Type:      events.EventJobAssigned,
			JobID:     job.ID,
			NodeID:    client.ID,
			Status:    string(types.JobStatusRunning),
			Timestamp: time.Now().UTC(),
		})

		jobs = removeJob(jobs, job.ID)
		if len(jobs) == 0 {
			return
		}
	}
}

// availableClients filters the live pool to nodes that can take work right
// now: socket open, runtime ONLINE or IDLE, and the persisted view not
// BUSY or UNRESPONSIVE.
func (d *Dispatcher) availableClients() []*ws.Client {
	var out []*ws.Client
	for _, client := range d.hub.Clients() {
		if client.IsClosed() {
			continue
		}
		switch client.Status() {
		case types.NodeStatusOnline, types.NodeStatusIdle:
		default:
			continue
		}
		if meta := client.Meta(); meta != nil {
			switch meta.Status {
			case types.NodeStatusOnline, types.NodeStatusIdle:
			default:
				continue
			}
		}
		out = append(out, client)
	}
	return out
}

// selectJobForClient applies the matching rule. Jobs arrive oldest-first, so
// within each rule the oldest eligible job wins.
//
//  1. Directed: a QUEUED job targeted at this node.
//  2. Tag match: a PENDING job with no target whose requested tags are a
//     subset of the node's tags.
func selectJobForClient(client *ws.Client, jobs []types.Job) *types.Job {
	for i := range jobs {
		job := &jobs[i]
		if job.Status == types.JobStatusQueued && job.TargetNodeID != nil && *job.TargetNodeID == client.ID {
			return job
		}
	}

	meta := client.Meta()
	for i := range jobs {
		job := &jobs[i]
		if job.Status != types.JobStatusPending {
			continue
		}
		if job.TargetNodeID != nil && *job.TargetNodeID != "" {
			continue
		}
		if meta == nil {
			if len(job.RequestedTags) == 0 {
				return job
			}
			continue
		}
		if meta.HasAllTags(job.RequestedTags) {
			return job
		}
	}
	return nil
}

func (d *Dispatcher) sendAssignment(ctx context.Context, client *ws.Client, job *types.Job) error {
	return d.hub.SendAssignment(ctx, client, ws.AssignEnvelope{
		JobID:         job.ID,
		Prompt:        job.Prompt,
		Repositories:  job.Repositories,
		Workdir:       path.Join(d.workdirRoot(), job.ID),
		Metadata:      job.Metadata.Data(),
		RequestedTags: job.RequestedTags,
		TargetNodeID:  client.ID,
	})
}

func removeJob(jobs []types.Job, id string) []types.Job {
	out := jobs[:0]
	for _, j := range jobs {
		if j.ID != id {
			out = append(out, j)
		}
	}
	return out
}

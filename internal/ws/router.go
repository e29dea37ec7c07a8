package ws

import (
	"context"
	"time"

	"github.com/yungbote/codernetes/internal/events"
	"github.com/yungbote/codernetes/internal/logger"
	"github.com/yungbote/codernetes/internal/repos"
	"github.com/yungbote/codernetes/internal/types"
)

// Router classifies inbound frames and applies them to the store and the
// registry. It owns no connection state; the read loop hands it one frame at
// a time.
type Router struct {
	log     *logger.Logger
	hub     *Hub
	jobs    repos.JobRepo
	jobLogs repos.JobLogRepo
	bus     events.Bus
}

func NewRouter(hub *Hub, jobs repos.JobRepo, jobLogs repos.JobLogRepo, bus events.Bus, baseLog *logger.Logger) *Router {
	return &Router{
		log:     baseLog.With("component", "Router"),
		hub:     hub,
		jobs:    jobs,
		jobLogs: jobLogs,
		bus:     bus,
	}
}

// HandleFrame processes one inbound text frame. Every frame counts as a
// liveness signal; handlers may override the ONLINE reset (a RUNNING report
// flips the node BUSY).
func (r *Router) HandleFrame(ctx context.Context, client *Client, raw []byte) {
	client.Touch()
	client.setStatus(types.NodeStatusOnline)
	r.hub.UpdateNodeRecord(ctx, client, NodeUpdate{Status: types.NodeStatusOnline})

	switch msg := ParseInbound(raw).(type) {
	case NodeHello:
		r.handleHello(ctx, client, msg)
	case JobStatusReport:
		r.handleJobStatus(ctx, client, msg)
	case JobLogLine:
		r.handleJobLog(ctx, client, msg)
	case ChatFrame:
		// Anything unrecognised is chat: echo to the other nodes verbatim.
		r.hub.Broadcast(ctx, msg.Raw, client)
	}
}

func (r *Router) handleHello(ctx context.Context, client *Client, msg NodeHello) {
	r.log.Info("Node hello", "node_id", client.ID, "display_name", msg.DisplayName, "tags", msg.Tags)
	r.hub.UpdateNodeRecord(ctx, client, NodeUpdate{
		Status:       types.NodeStatusOnline,
		DisplayName:  &msg.DisplayName,
		Tags:         msg.Tags,
		Capabilities: msg.Capabilities,
	})
}

func (r *Router) handleJobStatus(ctx context.Context, client *Client, msg JobStatusReport) {
	if msg.JobID == "" || msg.Status == "" {
		r.log.Warn("Invalid job.status payload", "node_id", client.ID, "job_id", msg.JobID, "status", msg.Status)
		return
	}
	status, ok := types.ParseJobStatus(msg.Status)
	if !ok {
		r.log.Warn("Unknown job status from node", "node_id", client.ID, "job_id", msg.JobID, "status", msg.Status)
		return
	}

	err := r.jobs.UpdateStatus(ctx, nil, msg.JobID, status, repos.StatusUpdate{
		LogPath:       msg.LogPath,
		ResultSummary: msg.ResultSummary,
		ErrorMessage:  msg.ErrorMessage,
	})
	if err != nil {
		r.log.Error("Failed to apply job status report", "job_id", msg.JobID, "status", status, "error", err)
		return
	}
	_ = r.bus.Publish(ctx, events.Event{
		Type:      events.EventJobStatusChanged,
		JobID:     msg.JobID,
		NodeID:    client.ID,
		Status:    string(status),
		Timestamp: time.Now().UTC(),
	})

	// The node's runtime status follows the job: executing means BUSY, a
	// terminal report frees it up.
	switch {
	case status == types.JobStatusRunning:
		r.hub.UpdateNodeRecord(ctx, client, NodeUpdate{Status: types.NodeStatusBusy})
	case status.IsTerminal():
		r.hub.UpdateNodeRecord(ctx, client, NodeUpdate{Status: types.NodeStatusOnline})
	}
}

func (r *Router) handleJobLog(ctx context.Context, client *Client, msg JobLogLine) {
	if msg.JobID == "" {
		r.log.Warn("job.log without job_id", "node_id", client.ID)
		return
	}
	if _, err := r.jobLogs.Append(ctx, nil, msg.JobID, msg.Level, msg.Message, nil); err != nil {
		r.log.Error("Failed to append job log", "job_id", msg.JobID, "error", err)
		return
	}
	switch msg.Level {
	case "error":
		r.log.Error("Job log", "job_id", msg.JobID, "message", msg.Message)
	case "warning":
		r.log.Warn("Job log", "job_id", msg.JobID, "message", msg.Message)
	default:
		r.log.Debug("Job log", "job_id", msg.JobID, "message", msg.Message)
	}
}

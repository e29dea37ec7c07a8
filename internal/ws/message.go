package ws

import (
	"encoding/json"

	"github.com/yungbote/codernetes/internal/types"
)

// Server -> node envelope types.
const (
	TypeWelcome = "welcome"
	TypeMessage = "message"
	TypeAssign  = "job.assign"
)

// Node -> server envelope types.
const (
	typeNodeHello = "node.hello"
	typeJobStatus = "job.status"
	typeJobLog    = "job.log"
)

type WelcomeEnvelope struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

// MessageEnvelope relays free-form text between nodes. From is the sender's
// node id, or "master" for server-originated sends.
type MessageEnvelope struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Payload string `json:"payload"`
}

type AssignEnvelope struct {
	Type          string                 `json:"type"`
	JobID         string                 `json:"job_id"`
	Prompt        string                 `json:"prompt"`
	Repositories  []types.RepositorySpec `json:"repositories"`
	Workdir       string                 `json:"workdir"`
	Metadata      map[string]string      `json:"metadata"`
	RequestedTags []string               `json:"requested_tags"`
	TargetNodeID  string                 `json:"target_node_id"`
}

// Inbound is the sum of everything a node can send. Frames that are not a
// JSON object with a recognised type decode to ChatFrame and take the
// broadcast path.
type Inbound interface {
	inbound()
}

type NodeHello struct {
	DisplayName  string
	Tags         []string
	Capabilities map[string]string
}

type JobStatusReport struct {
	JobID         string
	Status        string
	LogPath       *string
	ResultSummary *string
	ErrorMessage  *string
}

type JobLogLine struct {
	JobID   string
	Level   string
	Message string
}

type ChatFrame struct {
	Raw string
}

func (NodeHello) inbound()       {}
func (JobStatusReport) inbound() {}
func (JobLogLine) inbound()      {}
func (ChatFrame) inbound()       {}

// ParseInbound classifies a raw text frame. Malformed payload shapes inside
// a recognised type are coerced leniently (bad tags become empty, missing
// level defaults to info) — a worker with a buggy frame should degrade, not
// break the channel.
func ParseInbound(raw []byte) Inbound {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return ChatFrame{Raw: string(raw)}
	}

	msgType, _ := payload["type"].(string)
	switch msgType {
	case typeNodeHello:
		return NodeHello{
			DisplayName:  stringField(payload, "display_name"),
			Tags:         stringSliceField(payload, "tags"),
			Capabilities: stringMapField(payload, "capabilities"),
		}
	case typeJobStatus:
		return JobStatusReport{
			JobID:         stringField(payload, "job_id"),
			Status:        stringField(payload, "status"),
			LogPath:       optStringField(payload, "log_path"),
			ResultSummary: optStringField(payload, "result_summary"),
			ErrorMessage:  optStringField(payload, "error_message"),
		}
	case typeJobLog:
		level := stringField(payload, "level")
		if level == "" {
			level = "info"
		}
		return JobLogLine{
			JobID:   stringField(payload, "job_id"),
			Level:   level,
			Message: stringField(payload, "message"),
		}
	default:
		return ChatFrame{Raw: string(raw)}
	}
}

func stringField(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}

func optStringField(payload map[string]interface{}, key string) *string {
	s, ok := payload[key].(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func stringSliceField(payload map[string]interface{}, key string) []string {
	raw, ok := payload[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func stringMapField(payload map[string]interface{}, key string) map[string]string {
	raw, ok := payload[key].(map[string]interface{})
	if !ok {
		return map[string]string{}
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

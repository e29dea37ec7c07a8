package types

import (
	"time"

	"gorm.io/datatypes"
)

type NodeStatus string

const (
	NodeStatusOnline       NodeStatus = "online"
	NodeStatusIdle         NodeStatus = "idle"
	NodeStatusBusy         NodeStatus = "busy"
	NodeStatusUnresponsive NodeStatus = "unresponsive"
	NodeStatusOffline      NodeStatus = "offline"
)

// NodeMetadata is the persisted roster row for a node. The id is minted by
// the master when the connection is accepted; the node learns it from the
// welcome envelope.
type NodeMetadata struct {
	ID           string                                `gorm:"column:node_id;primaryKey" json:"node_id"`
	DisplayName  string                                `gorm:"column:display_name" json:"display_name"`
	Tags         datatypes.JSONSlice[string]           `gorm:"column:tags" json:"tags"`
	Capabilities datatypes.JSONType[map[string]string] `gorm:"column:capabilities" json:"capabilities"`
	Status       NodeStatus                            `gorm:"column:status;not null" json:"status"`
	LastSeen     time.Time                             `gorm:"column:last_seen;not null" json:"last_seen"`
}

func (NodeMetadata) TableName() string { return "nodes" }

// HasAllTags reports whether every requested tag is present on the node.
// An empty request matches any node.
func (n NodeMetadata) HasAllTags(requested []string) bool {
	if len(requested) == 0 {
		return true
	}
	have := make(map[string]bool, len(n.Tags))
	for _, t := range n.Tags {
		have[t] = true
	}
	for _, t := range requested {
		if !have[t] {
			return false
		}
	}
	return true
}

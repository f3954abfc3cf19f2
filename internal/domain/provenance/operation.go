package provenance

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Operation is the append-only audit record for one unit of work (tool
// invocation). Created at task start, sealed exactly once at completion,
// never mutated after seal. Persisted independently of the graph database
// so audit history survives graph resets.
type Operation struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ToolID        string         `gorm:"column:tool_id;not null;index" json:"tool_id"`
	OperationType string         `gorm:"column:operation_type;not null;index" json:"operation_type"`
	Inputs        datatypes.JSON `gorm:"column:inputs" json:"inputs,omitempty"`
	Outputs       datatypes.JSON `gorm:"column:outputs" json:"outputs,omitempty"`
	StartTime     time.Time      `gorm:"column:start_time;not null;index" json:"start_time"`
	EndTime       *time.Time     `gorm:"column:end_time;index" json:"end_time,omitempty"`
	Success       bool           `gorm:"column:success;not null;default:false" json:"success"`
	Error         string         `gorm:"column:error" json:"error,omitempty"`
	Metadata      datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	Sealed        bool           `gorm:"column:sealed;not null;default:false;index" json:"sealed"`
}

func (Operation) TableName() string { return "operation" }

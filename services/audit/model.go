package audit

import (
	"time"

	"gorm.io/datatypes"
)

// Actions recorded by the engine.
const (
	ActionSubmissionApproved = "submission.approved"
	ActionSubmissionRejected = "submission.rejected"
	ActionEventReconciled    = "webhook.event_reconciled"
	ActionBadgeAwarded       = "badge.awarded"
)

// Entry is append-only. Every ledger write is paired with exactly one
// audit entry in the same transaction; neither is ever written alone.
type Entry struct {
	ID        string         `gorm:"column:id;primaryKey"`
	ActorID   string         `gorm:"column:actor_id;index;not null"`
	Action    string         `gorm:"column:action;index;not null"`
	TargetID  string         `gorm:"column:target_id;index"`
	Meta      datatypes.JSON `gorm:"column:meta"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (Entry) TableName() string { return "audit_log" }

package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Source classifies who originated a point delta.
type Source string

const (
	SourceManual  Source = "MANUAL"
	SourceWebhook Source = "WEBHOOK"
	SourceForm    Source = "FORM"
)

const (
	ExternalSourceAdminApproval = "admin_approval"
	ExternalSourceKajabi        = "kajabi"

	// GenesisHash anchors the first entry of every user's chain.
	GenesisHash = "GENESIS"
)

// Entry is one append-only point delta. Rows are never updated or
// deleted; corrections are compensating appends. The
// (external_source, external_event_id) pair is the anti-double-award
// key: when both are present, at most one row may carry them.
type Entry struct {
	ID              string         `gorm:"column:id;primaryKey"`
	UserID          string         `gorm:"column:user_id;index"`
	ActivityCode    string         `gorm:"column:activity_code"`
	Source          Source         `gorm:"column:source"`
	DeltaPoints     int64          `gorm:"column:delta_points"`
	ExternalSource  *string        `gorm:"column:external_source;uniqueIndex:uq_ledger_external_event"`
	ExternalEventID *string        `gorm:"column:external_event_id;uniqueIndex:uq_ledger_external_event"`
	EventTime       time.Time      `gorm:"column:event_time"`
	Meta            datatypes.JSON `gorm:"column:meta"`
	PreviousHash    string         `gorm:"column:previous_hash"`
	Hash            string         `gorm:"column:hash"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
}

func (Entry) TableName() string {
	return "points_ledger"
}

func (e *Entry) HashFields() map[string]string {
	var externalSource, externalEventID string
	if e.ExternalSource != nil {
		externalSource = *e.ExternalSource
	}
	if e.ExternalEventID != nil {
		externalEventID = *e.ExternalEventID
	}

	return map[string]string{
		"id":                e.ID,
		"user_id":           e.UserID,
		"activity_code":     e.ActivityCode,
		"source":            string(e.Source),
		"delta_points":      fmt.Sprintf("%d", e.DeltaPoints),
		"external_source":   externalSource,
		"external_event_id": externalEventID,
		"event_time":        e.EventTime.UTC().Format(time.RFC3339Nano),
		"previous_hash":     e.PreviousHash,
	}
}

// GenerateHash produces the chained SHA-256 over the canonical fields.
// PreviousHash must already be set.
func (e *Entry) GenerateHash() string {
	fields := e.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

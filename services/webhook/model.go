package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Outcome classifies a reconciliation attempt. Unsupported events are
// a classification, not a failure.
type Outcome string

const (
	OutcomeProcessed       Outcome = "processed"
	OutcomeAlreadyRecorded Outcome = "already_recorded"
	OutcomeUnsupported     Outcome = "unsupported"
)

// Event is one stored provider notification. EventID is the provider's
// id and is unique; redelivery of the same notification lands on the
// stored row. ProcessedAt is set exactly once, by the transaction that
// reconciles the event.
type Event struct {
	ID           string         `gorm:"column:id;primaryKey"`
	EventID      string         `gorm:"column:event_id;uniqueIndex"`
	EventType    string         `gorm:"column:event_type"`
	TagName      string         `gorm:"column:tag_name"`
	ContactEmail string         `gorm:"column:contact_email"`
	Payload      datatypes.JSON `gorm:"column:payload"`
	ReceivedAt   time.Time      `gorm:"column:received_at"`
	ProcessedAt  *time.Time     `gorm:"column:processed_at"`
	UserMatch    *string        `gorm:"column:user_match"`
}

func (Event) TableName() string {
	return "webhook_events"
}

// ParseIncoming decodes a provider delivery body.
func ParseIncoming(raw []byte) (*IncomingEvent, error) {
	var incoming IncomingEvent
	if err := json.Unmarshal(raw, &incoming); err != nil {
		return nil, err
	}
	if incoming.EventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}
	return &incoming, nil
}

// IncomingEvent is the normalized provider payload shape.
type IncomingEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Contact   struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"contact"`
	Tag struct {
		Name string `json:"name"`
	} `json:"tag"`
}

package submission

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Status is the review state. PENDING is the only non-terminal state;
// a terminal submission is never reviewed again.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

type Submission struct {
	ID           string         `gorm:"column:id;primaryKey"`
	UserID       string         `gorm:"column:user_id;index"`
	ActivityCode string         `gorm:"column:activity_code;index"`
	Status       Status         `gorm:"column:status;index"`
	Visibility   string         `gorm:"column:visibility"`
	Payload      datatypes.JSON `gorm:"column:payload"`
	ReviewerID   string         `gorm:"column:reviewer_id"`
	ReviewNote   string         `gorm:"column:review_note"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at"`
}

func (Submission) TableName() string {
	return "submissions"
}

// AmplifyPayload is the self-reported session slice of an Amplify
// submission's payload.
type AmplifyPayload struct {
	PeersTrained     int    `json:"peers_trained"`
	StudentsTrained  int    `json:"students_trained"`
	SessionDate      string `json:"session_date"`
	SessionStartTime string `json:"session_start_time"`
	City             string `json:"city"`
}

func parseAmplifyPayload(raw datatypes.JSON) (*AmplifyPayload, error) {
	var payload AmplifyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

package badge

import (
	"time"

	"gorm.io/datatypes"

	"elevate-engine/services/activity"
)

// Stage-completion badge codes, one per program stage.
const (
	CodeLearnComplete   = "LEARN_COMPLETE"
	CodeExploreComplete = "EXPLORE_COMPLETE"
	CodeAmplifyComplete = "AMPLIFY_COMPLETE"
	CodePresentComplete = "PRESENT_COMPLETE"
	CodeShineComplete   = "SHINE_COMPLETE"
)

// Milestone badge codes and their point thresholds.
const (
	CodeRisingStar  = "RISING_STAR"
	CodeTrailblazer = "TRAILBLAZER"
	CodeLuminary    = "LUMINARY"

	ThresholdRisingStar  int64 = 50
	ThresholdTrailblazer int64 = 100
	ThresholdLuminary    int64 = 200
)

// Criteria types for data-driven catalog badges.
const (
	CriteriaPoints      = "points"
	CriteriaSubmissions = "submissions"
	CriteriaActivities  = "activities"
	CriteriaStreak      = "streak"
)

// Badge is reference data. The engine reads the catalog and never
// mutates it; cmd/seed/catalog owns writes.
type Badge struct {
	Code        string            `gorm:"column:code;primaryKey"`
	Name        string            `gorm:"column:name"`
	Description string            `gorm:"column:description"`
	Criteria    datatypes.JSONMap `gorm:"column:criteria"`
	CreatedAt   time.Time         `gorm:"column:created_at"`
}

func (Badge) TableName() string {
	return "badges"
}

// EarnedBadge records one award. The (user_id, badge_code) pair is
// unique; a violation on insert means a concurrent evaluation already
// awarded it and is not an error.
type EarnedBadge struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id;uniqueIndex:uq_earned_badge"`
	BadgeCode string    `gorm:"column:badge_code;uniqueIndex:uq_earned_badge"`
	EarnedAt  time.Time `gorm:"column:earned_at"`
}

func (EarnedBadge) TableName() string {
	return "earned_badges"
}

// Criteria is the parsed shape of Badge.Criteria.
type Criteria struct {
	Type          string   `json:"type"`
	Threshold     int64    `json:"threshold"`
	ActivityCodes []string `json:"activity_codes,omitempty"`
	Condition     string   `json:"condition,omitempty"`
}

// StageBadgeCodes maps each stage to its completion badge, in program order.
var StageBadgeCodes = []struct {
	Stage activity.Stage
	Code  string
}{
	{activity.StageLearn, CodeLearnComplete},
	{activity.StageExplore, CodeExploreComplete},
	{activity.StageAmplify, CodeAmplifyComplete},
	{activity.StagePresent, CodePresentComplete},
	{activity.StageShine, CodeShineComplete},
}

// MilestoneBadges in ascending threshold order.
var MilestoneBadges = []struct {
	Code      string
	Threshold int64
}{
	{CodeRisingStar, ThresholdRisingStar},
	{CodeTrailblazer, ThresholdTrailblazer},
	{CodeLuminary, ThresholdLuminary},
}

// SeedCatalog returns the built-in badge rows for cmd/seed/catalog.
func SeedCatalog() []*Badge {
	badges := []*Badge{
		{Code: CodeLearnComplete, Name: "Learn Complete", Description: "Completed the Learn stage"},
		{Code: CodeExploreComplete, Name: "Explore Complete", Description: "Completed the Explore stage"},
		{Code: CodeAmplifyComplete, Name: "Amplify Complete", Description: "Completed the Amplify stage"},
		{Code: CodePresentComplete, Name: "Present Complete", Description: "Completed the Present stage"},
		{Code: CodeShineComplete, Name: "Shine Complete", Description: "Completed the Shine stage"},
		{Code: CodeRisingStar, Name: "Rising Star", Description: "Earned 50 points"},
		{Code: CodeTrailblazer, Name: "Trailblazer", Description: "Earned 100 points"},
		{Code: CodeLuminary, Name: "Luminary", Description: "Earned 200 points"},
	}

	badges = append(badges, &Badge{
		Code:        "COMMUNITY_TRAINER",
		Name:        "Community Trainer",
		Description: "Three approved Amplify training sessions",
		Criteria: datatypes.JSONMap{
			"type":           CriteriaSubmissions,
			"threshold":      float64(3),
			"activity_codes": []any{activity.CodeAmplify},
		},
	})

	return badges
}

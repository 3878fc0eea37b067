package activity

import "time"

// Stage identifies one of the five program stages.
type Stage string

const (
	StageLearn   Stage = "LEARN"
	StageExplore Stage = "EXPLORE"
	StageAmplify Stage = "AMPLIFY"
	StagePresent Stage = "PRESENT"
	StageShine   Stage = "SHINE"
)

func (s Stage) String() string { return string(s) }

// Stages lists every stage in program order.
func Stages() []Stage {
	return []Stage{StageLearn, StageExplore, StageAmplify, StagePresent, StageShine}
}

// Activity codes double as the stage codes; one activity per stage.
const (
	CodeLearn   = "LEARN"
	CodeExplore = "EXPLORE"
	CodeAmplify = "AMPLIFY"
	CodePresent = "PRESENT"
	CodeShine   = "SHINE"
)

// Activity is immutable reference data. Rows are written by the seed
// command only; the engine never creates or mutates them.
type Activity struct {
	Code            string    `gorm:"column:code;primaryKey"`
	Name            string    `gorm:"column:name;not null"`
	Stage           Stage     `gorm:"column:stage;type:varchar(20);index;not null"`
	DefaultPoints   int64     `gorm:"column:default_points;not null"`
	PayloadSchemaID string    `gorm:"column:payload_schema_id"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Activity) TableName() string { return "activities" }

// DefaultCatalog is the seeded activity set.
func DefaultCatalog() []*Activity {
	return []*Activity{
		{Code: CodeLearn, Name: "Learn: course completion", Stage: StageLearn, DefaultPoints: 20, PayloadSchemaID: "learn.v1"},
		{Code: CodeExplore, Name: "Explore: classroom AI evidence", Stage: StageExplore, DefaultPoints: 50, PayloadSchemaID: "explore.v1"},
		{Code: CodeAmplify, Name: "Amplify: peer and student training", Stage: StageAmplify, DefaultPoints: 25, PayloadSchemaID: "amplify.v1"},
		{Code: CodePresent, Name: "Present: LinkedIn showcase", Stage: StagePresent, DefaultPoints: 20, PayloadSchemaID: "present.v1"},
		{Code: CodeShine, Name: "Shine: recognition nomination", Stage: StageShine, DefaultPoints: 10, PayloadSchemaID: "shine.v1"},
	}
}

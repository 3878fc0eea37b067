package educator

import (
	"strings"
	"time"
)

type Educator struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Email     string    `gorm:"column:email;uniqueIndex;not null"`
	Name      string    `gorm:"column:name"`
	Role      string    `gorm:"column:role;type:varchar(20);default:'participant'"`
	School    string    `gorm:"column:school"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Educator) TableName() string { return "educators" }

// NormalizeEmail is the canonical form used for webhook contact matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

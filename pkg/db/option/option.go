package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a gorm query before it is executed.
type QueryOption func(*gorm.DB) *gorm.DB

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// WithSortBy orders the query by an allow-listed column. Unknown columns
// fall back to created_at so user input can never reach the ORDER BY clause.
func WithSortBy(sort QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := sort.SortBy
		if column == "" || (sort.Allow != nil && !sort.Allow[column]) {
			column = "created_at"
		}

		direction := "ASC"
		if strings.EqualFold(sort.OrderBy, "desc") {
			direction = "DESC"
		}

		return db.Order(fmt.Sprintf("%s %s", column, direction))
	}
}

// WithLimit caps the number of rows returned.
func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}

// WithLockingUpdate applies SELECT ... FOR UPDATE to the query.
func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// LockingUpdate is usable both as a QueryOption and as a gorm scope
// (db.Scopes(option.LockingUpdate)). sqlite has no row locks; its single
// writer already serializes the transactions the lock would order.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds a comparison predicate that the struct-based query
// syntax cannot express (struct queries are equality-only).
func ApplyOperator(cond Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), cond.Value)
	}
}

// IsNull adds an IS NULL predicate on the given column.
func IsNull(field string) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(fmt.Sprintf("%s IS NULL", field))
	}
}

// Apply runs every option against the query.
func Apply(db *gorm.DB, opts ...QueryOption) *gorm.DB {
	for _, opt := range opts {
		db = opt(db)
	}
	return db
}

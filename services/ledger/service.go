package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"elevate-engine/pkg/db/option"
	"elevate-engine/pkg/db/pagination"
	"elevate-engine/pkg/errutil"
	"elevate-engine/pkg/repository"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	entries repository.Repository[Entry]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		entries: repository.ProvideStore[Entry](p.DB),
	}
}

type AppendParams struct {
	UserID          string
	ActivityCode    string
	Source          Source
	DeltaPoints     int64
	ExternalSource  string
	ExternalEventID string
	EventTime       time.Time
	Meta            map[string]any
}

// Append writes one entry inside the caller's transaction. The caller
// owns the transaction boundary: every append is paired with the state
// change it records (a review, a reconciliation) and commits or rolls
// back with it. A unique violation on the external event pair comes
// back as a Conflict; idempotent callers pre-check with
// FindByExternalEvent and treat the Conflict as already recorded.
func (s *Service) Append(ctx context.Context, tx *gorm.DB, p AppendParams) (*Entry, error) {
	entriesTx := s.entries.WithTrx(tx)

	last, err := entriesTx.FindOne(ctx, &Entry{UserID: p.UserID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLockingUpdate(),
	)
	if err != nil {
		return nil, err
	}

	previousHash := GenesisHash
	if last != nil {
		previousHash = last.Hash
	}

	eventTime := p.EventTime
	if eventTime.IsZero() {
		eventTime = time.Now()
	}

	var meta datatypes.JSON
	if p.Meta != nil {
		b, err := json.Marshal(p.Meta)
		if err != nil {
			return nil, err
		}
		meta = datatypes.JSON(b)
	}

	entry := &Entry{
		ID:           s.node.Generate().String(),
		UserID:       p.UserID,
		ActivityCode: p.ActivityCode,
		Source:       p.Source,
		DeltaPoints:  p.DeltaPoints,
		EventTime:    eventTime,
		Meta:         meta,
		PreviousHash: previousHash,
	}
	if p.ExternalSource != "" {
		entry.ExternalSource = &p.ExternalSource
	}
	if p.ExternalEventID != "" {
		entry.ExternalEventID = &p.ExternalEventID
	}
	entry.Hash = entry.GenerateHash()

	if err := entriesTx.Create(ctx, entry); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("points already recorded for this event", err)
		}
		return nil, err
	}

	return entry, nil
}

// FindByExternalEvent returns the entry recorded for an external event,
// or nil when none exists.
func (s *Service) FindByExternalEvent(ctx context.Context, tx *gorm.DB, externalSource, externalEventID string) (*Entry, error) {
	return s.entries.WithTrx(tx).FindOne(ctx, &Entry{
		ExternalSource:  &externalSource,
		ExternalEventID: &externalEventID,
	})
}

// TotalForUser sums the user's deltas. The total is always derived from
// the ledger, never kept as a separate counter. Pass the transaction
// when the total must observe uncommitted appends.
func (s *Service) TotalForUser(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	var total int64
	err := s.handle(tx).WithContext(ctx).
		Model(&Entry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(delta_points), 0)").
		Scan(&total).Error
	return total, err
}

// TotalsByActivity sums the user's deltas per activity code.
func (s *Service) TotalsByActivity(ctx context.Context, tx *gorm.DB, userID string) (map[string]int64, error) {
	var rows []struct {
		ActivityCode string
		Total        int64
	}
	err := s.handle(tx).WithContext(ctx).
		Model(&Entry{}).
		Where("user_id = ?", userID).
		Select("activity_code, COALESCE(SUM(delta_points), 0) AS total").
		Group("activity_code").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64, len(rows))
	for _, row := range rows {
		totals[row.ActivityCode] = row.Total
	}
	return totals, nil
}

// StreakDays counts the consecutive calendar days with ledger activity
// ending at the user's most recent entry, in the given timezone.
func (s *Service) StreakDays(ctx context.Context, tx *gorm.DB, userID string, loc *time.Location) (int64, error) {
	if loc == nil {
		loc = time.UTC
	}

	entries, err := s.entries.WithTrx(tx).Find(ctx, &Entry{UserID: userID})
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	days := make(map[string]bool, len(entries))
	var latest time.Time
	for _, entry := range entries {
		local := entry.EventTime.In(loc)
		days[local.Format("2006-01-02")] = true
		if local.After(latest) {
			latest = local
		}
	}

	var streak int64
	for d := latest; days[d.Format("2006-01-02")]; d = d.AddDate(0, 0, -1) {
		streak++
	}
	return streak, nil
}

func (s *Service) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

type ListResult struct {
	Entries  []*Entry
	PageInfo *pagination.PageInfo
}

// ListForUser returns the user's entries newest first, cursor-paginated.
func (s *Service) ListForUser(ctx context.Context, userID string, page pagination.Pagination) (*ListResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	limit := page.Limit
	if limit <= 0 {
		limit = 10
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "id",
			OrderBy: "desc",
			Allow:   map[string]bool{"id": true},
		}),
		option.WithLimit(limit + 1),
	}

	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "id",
			Operator: option.LT,
			Value:    cursor.ID,
		}))
	}

	entries, err := s.entries.Find(ctx, &Entry{UserID: userID}, opts...)
	if err != nil {
		zap.L().Error("failed to list ledger entries",
			zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(entries, int32(limit), func(e *Entry) string {
		c, _ := pagination.EncodeCursor(pagination.Cursor{ID: e.ID})
		return c
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	return &ListResult{Entries: entries, PageInfo: pageInfo}, nil
}

// VerifyChain walks the user's entries oldest first and checks every
// link: each entry's hash must match its recomputed hash and its
// previous_hash must equal the hash before it.
func (s *Service) VerifyChain(ctx context.Context, userID string) (bool, error) {
	entries, err := s.entries.Find(ctx, &Entry{UserID: userID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "asc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "id",
			OrderBy: "asc",
			Allow:   map[string]bool{"id": true},
		}),
	)
	if err != nil {
		return false, err
	}

	lastHash := GenesisHash
	for _, entry := range entries {
		if entry.Hash != entry.GenerateHash() || entry.PreviousHash != lastHash {
			return false, nil
		}
		lastHash = entry.Hash
	}

	return true, nil
}

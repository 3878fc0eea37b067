package audit

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"elevate-engine/pkg/db/option"
	"elevate-engine/pkg/repository"
)

// Recorder writes audit entries inside caller-supplied transactions.
type Recorder struct {
	node    *snowflake.Node
	entries repository.Repository[Entry]
}

type RecorderParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewRecorder(p RecorderParams) *Recorder {
	return &Recorder{
		node:    p.Node,
		entries: repository.ProvideStore[Entry](p.DB),
	}
}

// Record appends one audit entry. tx must be the transaction carrying the
// state change being audited; passing nil writes outside any transaction
// and is only acceptable for standalone administrative actions.
func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, actorID, action, targetID string, meta map[string]any) error {
	var raw datatypes.JSON
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		raw = datatypes.JSON(b)
	}

	return r.entries.WithTrx(tx).Create(ctx, &Entry{
		ID:       r.node.Generate().String(),
		ActorID:  actorID,
		Action:   action,
		TargetID: targetID,
		Meta:     raw,
	})
}

// ListForTarget returns the audit trail of one target, newest first.
func (r *Recorder) ListForTarget(ctx context.Context, targetID string) ([]*Entry, error) {
	return r.entries.Find(ctx, &Entry{TargetID: targetID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
	)
}

var Module = fx.Module("audit",
	fx.Provide(NewRecorder),
)

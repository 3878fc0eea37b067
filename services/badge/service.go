package badge

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"elevate-engine/pkg/repository"
	"elevate-engine/services/audit"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	badges    repository.Repository[Badge]
	earned    repository.Repository[EarnedBadge]
	evaluator *Evaluator
	audit     *audit.Recorder
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Audit *audit.Recorder
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		badges:    repository.ProvideStore[Badge](p.DB),
		earned:    repository.ProvideStore[EarnedBadge](p.DB),
		evaluator: NewEvaluator(),
		audit:     p.Audit,
	}
}

// EvaluateAndAward re-reads the earned set inside the caller's
// transaction, runs the award rules against the snapshot, and inserts
// the newly eligible EarnedBadge rows. The re-read closes the race
// with a concurrent award; the unique constraint on
// (user_id, badge_code) is the final backstop, so a duplicate-key
// insert is treated as already awarded elsewhere, not an error.
func (s *Service) EvaluateAndAward(ctx context.Context, tx *gorm.DB, actorID, userID string, progress Progress) ([]string, error) {
	earnedTx := s.earned.WithTrx(tx)

	rows, err := earnedTx.Find(ctx, &EarnedBadge{UserID: userID})
	if err != nil {
		return nil, err
	}
	alreadyEarned := make(map[string]bool, len(rows))
	for _, row := range rows {
		alreadyEarned[row.BadgeCode] = true
	}
	progress.AlreadyEarned = alreadyEarned

	catalog, err := s.badges.WithTrx(tx).Find(ctx, &Badge{})
	if err != nil {
		return nil, err
	}

	awarded := make([]string, 0)
	for _, code := range BadgesToAward(progress, catalog, s.evaluator) {
		err := earnedTx.Create(ctx, &EarnedBadge{
			ID:        s.node.Generate().String(),
			UserID:    userID,
			BadgeCode: code,
			EarnedAt:  time.Now(),
		})
		if err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				zap.L().Info("badge already awarded concurrently",
					zap.String("user_id", userID), zap.String("badge_code", code))
				continue
			}
			return nil, err
		}

		if err := s.audit.Record(ctx, tx, actorID, audit.ActionBadgeAwarded, userID, map[string]any{
			"badge_code": code,
		}); err != nil {
			return nil, err
		}

		awarded = append(awarded, code)
	}

	return awarded, nil
}

// ListForUser returns the user's earned badges, oldest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*EarnedBadge, error) {
	return s.earned.Find(ctx, &EarnedBadge{UserID: userID})
}

var Module = fx.Module("badge.service",
	fx.Provide(NewService),
)

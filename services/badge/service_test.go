package badge

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"elevate-engine/services/activity"
	"elevate-engine/services/audit"
	"elevate-engine/services/testutil"
)

func newTestBadgeService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Badge{}, &EarnedBadge{}, &audit.Entry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	recorder := audit.NewRecorder(audit.RecorderParams{DB: db, Node: node})
	return NewService(ServiceParams{DB: db, Node: node, Audit: recorder}), db
}

func awardInTx(t *testing.T, svc *Service, db *gorm.DB, userID string, progress Progress) []string {
	t.Helper()

	var awarded []string
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		awarded, err = svc.EvaluateAndAward(context.Background(), tx, "reviewer-1", userID, progress)
		return err
	})
	require.NoError(t, err)
	return awarded
}

func TestEvaluateAndAward(t *testing.T) {
	svc, db := newTestBadgeService(t)

	progress := Progress{
		TotalPoints:    60,
		ApprovedStages: map[activity.Stage]bool{activity.StageLearn: true},
	}

	awarded := awardInTx(t, svc, db, "user-1", progress)
	require.Equal(t, []string{CodeLearnComplete, CodeRisingStar}, awarded)

	// Re-evaluating the same snapshot awards nothing new.
	awarded = awardInTx(t, svc, db, "user-1", progress)
	require.Empty(t, awarded)

	earned, err := svc.ListForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, earned, 2)
}

func TestEvaluateAndAwardWritesAudit(t *testing.T) {
	svc, db := newTestBadgeService(t)

	awardInTx(t, svc, db, "user-1", Progress{TotalPoints: 50})

	var entries []*audit.Entry
	require.NoError(t, db.Where("action = ?", audit.ActionBadgeAwarded).Find(&entries).Error)
	require.Len(t, entries, 1)
	require.Equal(t, "user-1", entries[0].TargetID)
	require.Equal(t, "reviewer-1", entries[0].ActorID)
}

func TestEvaluateAndAwardUsesCatalogCriteria(t *testing.T) {
	svc, db := newTestBadgeService(t)
	require.NoError(t, db.Create(SeedCatalog()).Error)

	awarded := awardInTx(t, svc, db, "user-1", Progress{
		ApprovedByActivity: map[string]int64{activity.CodeAmplify: 3},
	})
	require.Contains(t, awarded, "COMMUNITY_TRAINER")
}

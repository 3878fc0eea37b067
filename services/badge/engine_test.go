package badge

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"elevate-engine/services/activity"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestMilestoneBadges(t *testing.T) {
	eval := NewEvaluator()

	award := BadgesToAward(Progress{TotalPoints: 60}, nil, eval)
	require.Equal(t, []string{CodeRisingStar}, award)

	// Already earned: the same snapshot never re-awards.
	award = BadgesToAward(Progress{
		TotalPoints:   60,
		AlreadyEarned: map[string]bool{CodeRisingStar: true},
	}, nil, eval)
	require.Empty(t, award)

	award = BadgesToAward(Progress{TotalPoints: 250}, nil, eval)
	require.Equal(t, []string{CodeRisingStar, CodeTrailblazer, CodeLuminary}, award)
}

func TestStageBadges(t *testing.T) {
	eval := NewEvaluator()

	award := BadgesToAward(Progress{
		ApprovedStages: map[activity.Stage]bool{
			activity.StageLearn:   true,
			activity.StageAmplify: true,
		},
	}, nil, eval)
	require.Equal(t, []string{CodeLearnComplete, CodeAmplifyComplete}, award)

	award = BadgesToAward(Progress{
		ApprovedStages: map[activity.Stage]bool{activity.StageLearn: true},
		AlreadyEarned:  map[string]bool{CodeLearnComplete: true},
	}, nil, eval)
	require.Empty(t, award)
}

func TestCatalogSubmissionsCriteria(t *testing.T) {
	eval := NewEvaluator()
	catalog := []*Badge{
		{
			Code: "COMMUNITY_TRAINER",
			Criteria: datatypes.JSONMap{
				"type":           CriteriaSubmissions,
				"threshold":      float64(3),
				"activity_codes": []any{activity.CodeAmplify},
			},
		},
	}

	award := BadgesToAward(Progress{
		ApprovedByActivity: map[string]int64{activity.CodeAmplify: 2},
	}, catalog, eval)
	require.Empty(t, award)

	award = BadgesToAward(Progress{
		ApprovedByActivity: map[string]int64{activity.CodeAmplify: 3},
	}, catalog, eval)
	require.Equal(t, []string{"COMMUNITY_TRAINER"}, award)
}

func TestCatalogPointsByActivityCriteria(t *testing.T) {
	eval := NewEvaluator()
	catalog := []*Badge{
		{
			Code: "EXPLORER_ELITE",
			Criteria: datatypes.JSONMap{
				"type":           CriteriaPoints,
				"threshold":      float64(100),
				"activity_codes": []any{activity.CodeExplore},
			},
		},
	}

	award := BadgesToAward(Progress{
		TotalPoints:      150,
		PointsByActivity: map[string]int64{activity.CodeExplore: 50},
	}, catalog, eval)
	require.NotContains(t, award, "EXPLORER_ELITE")

	award = BadgesToAward(Progress{
		TotalPoints:      150,
		PointsByActivity: map[string]int64{activity.CodeExplore: 100},
	}, catalog, eval)
	require.Contains(t, award, "EXPLORER_ELITE")
}

func TestCatalogStreakCriteria(t *testing.T) {
	eval := NewEvaluator()
	catalog := []*Badge{
		{
			Code: "CONSISTENT_CONTRIBUTOR",
			Criteria: datatypes.JSONMap{
				"type":      CriteriaStreak,
				"threshold": float64(7),
			},
		},
	}

	award := BadgesToAward(Progress{StreakDays: 6}, catalog, eval)
	require.Empty(t, award)

	award = BadgesToAward(Progress{StreakDays: 7}, catalog, eval)
	require.Equal(t, []string{"CONSISTENT_CONTRIBUTOR"}, award)
}

func TestCatalogConditionNarrowsEligibility(t *testing.T) {
	eval := NewEvaluator()
	catalog := []*Badge{
		{
			Code: "AMPLIFY_VETERAN",
			Criteria: datatypes.JSONMap{
				"type":      CriteriaSubmissions,
				"threshold": float64(1),
				"condition": "total_points >= 75",
			},
		},
	}

	award := BadgesToAward(Progress{
		SubmissionsApproved: 2,
		TotalPoints:         60,
	}, catalog, eval)
	require.Empty(t, award)

	award = BadgesToAward(Progress{
		SubmissionsApproved: 2,
		TotalPoints:         80,
	}, catalog, eval)
	require.Equal(t, []string{"AMPLIFY_VETERAN"}, award)
}

func TestMalformedCriteriaIsSkipped(t *testing.T) {
	eval := NewEvaluator()
	catalog := []*Badge{
		{Code: "BROKEN", Criteria: datatypes.JSONMap{"type": "unknown", "threshold": float64(1)}},
	}

	award := BadgesToAward(Progress{TotalPoints: 10, SubmissionsApproved: 10}, catalog, eval)
	require.Empty(t, award)
}

package submission

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"elevate-engine/pkg/config"
	"elevate-engine/pkg/errutil"
	"elevate-engine/services/activity"
	"elevate-engine/services/amplify"
	"elevate-engine/services/audit"
	"elevate-engine/services/badge"
	"elevate-engine/services/ledger"
	"elevate-engine/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func errutilStatus(err error) string {
	return string(errutil.StatusOf(err))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Platform.Timezone = "Asia/Kuala_Lumpur"
	cfg.Amplify.PeersPer7d = 50
	cfg.Amplify.StudentsPer7d = 200
	cfg.Amplify.DupWindowMinutes = 60
	return cfg
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&Submission{},
		&activity.Activity{},
		&ledger.Entry{},
		&audit.Entry{},
		&badge.Badge{},
		&badge.EarnedBadge{},
	)
	require.NoError(t, activity.Seed(context.Background(), db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := testConfig()
	recorder := audit.NewRecorder(audit.RecorderParams{DB: db, Node: node})
	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	badgeSvc := badge.NewService(badge.ServiceParams{DB: db, Node: node, Audit: recorder})
	catalog := activity.NewCatalog(activity.CatalogParams{DB: db})

	svc := NewService(ServiceParams{
		DB:      db,
		Node:    node,
		Config:  cfg,
		Catalog: catalog,
		Guard:   amplify.NewGuard(cfg),
		Ledger:  ledgerSvc,
		Badges:  badgeSvc,
		Audit:   recorder,
	})
	return svc, db
}

func createPending(t *testing.T, svc *Service, userID, activityCode string, payload map[string]any) *Submission {
	t.Helper()

	sub, err := svc.Create(context.Background(), userID, activityCode, "private", payload)
	require.NoError(t, err)
	require.Equal(t, StatusPending, sub.Status)
	return sub
}

func amplifyPayload(peers, students int, date, start, city string) map[string]any {
	return map[string]any{
		"peers_trained":      peers,
		"students_trained":   students,
		"session_date":       date,
		"session_start_time": start,
		"city":               city,
	}
}

func TestReviewApprove(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	sub := createPending(t, svc, "user-1", activity.CodeExplore, map[string]any{"evidence_url": "https://example.com/doc"})

	res, err := svc.Review(ctx, ReviewParams{
		SubmissionID: sub.ID,
		Action:       ActionApprove,
		ReviewerID:   "reviewer-1",
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, res.Submission.Status)
	require.Equal(t, int64(50), res.DeltaPoints)

	// Exactly one ledger entry, keyed by the deterministic event id.
	entry, err := svc.ledger.FindByExternalEvent(ctx, nil,
		ledger.ExternalSourceAdminApproval, fmt.Sprintf("submission_%s", sub.ID))
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, int64(50), entry.DeltaPoints)
	require.Equal(t, ledger.SourceManual, entry.Source)

	var auditCount int64
	require.NoError(t, db.Model(&audit.Entry{}).
		Where("action = ?", audit.ActionSubmissionApproved).Count(&auditCount).Error)
	require.Equal(t, int64(1), auditCount)

	// 50 points completes Explore and reaches the first milestone.
	require.Contains(t, res.AwardedBadges, badge.CodeExploreComplete)
	require.Contains(t, res.AwardedBadges, badge.CodeRisingStar)
}

func TestReviewTerminalOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sub := createPending(t, svc, "user-1", activity.CodeLearn, nil)

	_, err := svc.Review(ctx, ReviewParams{SubmissionID: sub.ID, Action: ActionApprove, ReviewerID: "reviewer-1"})
	require.NoError(t, err)

	_, err = svc.Review(ctx, ReviewParams{SubmissionID: sub.ID, Action: ActionApprove, ReviewerID: "reviewer-1"})
	require.Error(t, err)
	require.Equal(t, errutilStatus(err), "CONFLICT")

	_, err = svc.Review(ctx, ReviewParams{SubmissionID: sub.ID, Action: ActionReject, ReviewerID: "reviewer-2"})
	require.Error(t, err)
	require.Equal(t, errutilStatus(err), "CONFLICT")
}

func TestReviewNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Review(context.Background(), ReviewParams{
		SubmissionID: "missing", Action: ActionApprove, ReviewerID: "reviewer-1",
	})
	require.Error(t, err)
	require.Equal(t, errutilStatus(err), "NOT_FOUND")
}

func TestReviewAdjustmentBounds(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	sub := createPending(t, svc, "user-1", activity.CodeLearn, nil)

	tooBig := int64(1000)
	_, err := svc.Review(ctx, ReviewParams{
		SubmissionID:    sub.ID,
		Action:          ActionApprove,
		ReviewerID:      "reviewer-1",
		PointAdjustment: &tooBig,
	})
	require.Error(t, err)
	require.Equal(t, errutilStatus(err), "VALIDATION_FAILED")

	// The failed attempt left no writes behind.
	fresh, err := svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, fresh.Status)
	var count int64
	require.NoError(t, db.Model(&ledger.Entry{}).Count(&count).Error)
	require.Zero(t, count)

	ok := int64(5)
	res, err := svc.Review(ctx, ReviewParams{
		SubmissionID:    sub.ID,
		Action:          ActionApprove,
		ReviewerID:      "reviewer-1",
		PointAdjustment: &ok,
	})
	require.NoError(t, err)
	require.Equal(t, int64(25), res.DeltaPoints)
}

func TestRejectHasNoPointEffect(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	sub := createPending(t, svc, "user-1", activity.CodePresent, nil)

	res, err := svc.Review(ctx, ReviewParams{
		SubmissionID: sub.ID,
		Action:       ActionReject,
		ReviewerID:   "reviewer-1",
		ReviewNote:   "screenshot does not show the post",
	})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, res.Submission.Status)
	require.Zero(t, res.DeltaPoints)

	var ledgerCount int64
	require.NoError(t, db.Model(&ledger.Entry{}).Count(&ledgerCount).Error)
	require.Zero(t, ledgerCount)

	var auditCount int64
	require.NoError(t, db.Model(&audit.Entry{}).
		Where("action = ?", audit.ActionSubmissionRejected).Count(&auditCount).Error)
	require.Equal(t, int64(1), auditCount)
}

func TestAmplifyCapBlocksApproval(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Two approved sessions totalling 48 peers inside the window.
	for i, peers := range []int{20, 28} {
		prior := createPending(t, svc, "user-1", activity.CodeAmplify,
			amplifyPayload(peers, 0, fmt.Sprintf("2026-03-0%d", i+2), "09:00", "Kuala Lumpur"))
		_, err := svc.Review(ctx, ReviewParams{SubmissionID: prior.ID, Action: ActionApprove, ReviewerID: "reviewer-1"})
		require.NoError(t, err)
	}

	over := createPending(t, svc, "user-1", activity.CodeAmplify,
		amplifyPayload(5, 0, "2026-03-07", "10:00", "Ipoh"))
	_, err := svc.Review(ctx, ReviewParams{SubmissionID: over.ID, Action: ActionApprove, ReviewerID: "reviewer-1"})
	require.Error(t, err)
	require.Equal(t, errutilStatus(err), "TOO_MANY_REQUESTS")

	// The blocked submission is still reviewable.
	fresh, err := svc.Get(ctx, over.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, fresh.Status)

	exact := createPending(t, svc, "user-1", activity.CodeAmplify,
		amplifyPayload(2, 0, "2026-03-07", "13:00", "Ipoh"))
	res, err := svc.Review(ctx, ReviewParams{SubmissionID: exact.ID, Action: ActionApprove, ReviewerID: "reviewer-1"})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, res.Submission.Status)
}

func TestAmplifyDuplicateSessionWarning(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := createPending(t, svc, "user-1", activity.CodeAmplify,
		amplifyPayload(5, 0, "2026-03-07", "10:00", "Kuala Lumpur"))
	_, err := svc.Review(ctx, ReviewParams{SubmissionID: first.ID, Action: ActionApprove, ReviewerID: "reviewer-1"})
	require.NoError(t, err)

	second := createPending(t, svc, "user-1", activity.CodeAmplify,
		amplifyPayload(5, 0, "2026-03-07", "10:30", "Kuala Lumpur"))
	res, err := svc.Review(ctx, ReviewParams{SubmissionID: second.ID, Action: ActionApprove, ReviewerID: "reviewer-1"})
	require.NoError(t, err)
	require.Contains(t, res.Warnings, amplify.WarnDuplicateSession)
	require.Equal(t, StatusApproved, res.Submission.Status)
}

func TestBulkReviewIsolatesFailures(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := createPending(t, svc, "user-1", activity.CodeLearn, nil)
	b := createPending(t, svc, "user-2", activity.CodeLearn, nil)

	reviewed := createPending(t, svc, "user-3", activity.CodeLearn, nil)
	_, err := svc.Review(ctx, ReviewParams{SubmissionID: reviewed.ID, Action: ActionApprove, ReviewerID: "reviewer-1"})
	require.NoError(t, err)

	result := svc.BulkReview(ctx, []string{a.ID, b.ID, reviewed.ID, "missing"}, ActionApprove, "reviewer-1", "")
	require.Equal(t, 2, result.Processed)
	require.Equal(t, 2, result.Failed)
	require.Len(t, result.Errors, 2)

	failedIDs := []string{result.Errors[0].SubmissionID, result.Errors[1].SubmissionID}
	require.Contains(t, failedIDs, reviewed.ID)
	require.Contains(t, failedIDs, "missing")
}

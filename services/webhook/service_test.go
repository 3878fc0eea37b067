package webhook

import (
	"context"
	"testing"
	"time"

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
	"elevate-engine/services/educator"
	"elevate-engine/services/ledger"
	"elevate-engine/services/submission"
	"elevate-engine/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&Event{},
		&educator.Educator{},
		&submission.Submission{},
		&activity.Activity{},
		&ledger.Entry{},
		&audit.Entry{},
		&badge.Badge{},
		&badge.EarnedBadge{},
	)
	require.NoError(t, activity.Seed(context.Background(), db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Platform.Timezone = "Asia/Kuala_Lumpur"
	cfg.Amplify.PeersPer7d = 50
	cfg.Amplify.StudentsPer7d = 200
	cfg.Amplify.DupWindowMinutes = 60
	cfg.Kajabi.LearnTags = []string{"LEARN_COMPLETED"}

	recorder := audit.NewRecorder(audit.RecorderParams{DB: db, Node: node})
	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	badgeSvc := badge.NewService(badge.ServiceParams{DB: db, Node: node, Audit: recorder})
	catalog := activity.NewCatalog(activity.CatalogParams{DB: db})
	educators := educator.NewService(educator.ServiceParams{DB: db, Node: node})

	submissions := submission.NewService(submission.ServiceParams{
		DB:      db,
		Node:    node,
		Config:  cfg,
		Catalog: catalog,
		Guard:   amplify.NewGuard(cfg),
		Ledger:  ledgerSvc,
		Badges:  badgeSvc,
		Audit:   recorder,
	})

	svc := NewService(ServiceParams{
		DB:          db,
		Node:        node,
		Config:      cfg,
		Educators:   educators,
		Catalog:     catalog,
		Ledger:      ledgerSvc,
		Submissions: submissions,
		Badges:      badgeSvc,
		Audit:       recorder,
	})
	return svc, db
}

func registerEducator(t *testing.T, svc *Service, email string) *educator.Educator {
	t.Helper()

	user, err := svc.educators.Register(context.Background(), email, "Test Educator", "Test School")
	require.NoError(t, err)
	return user
}

func incoming(eventID, email, tag string) IncomingEvent {
	var e IncomingEvent
	e.EventID = eventID
	e.EventType = "contact.tag.added"
	e.Contact.Email = email
	e.Tag.Name = tag
	return e
}

func TestIngestIsIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, incoming("evt-1", "teacher@school.edu", "LEARN_COMPLETED"), nil)
	require.NoError(t, err)

	second, err := svc.Ingest(ctx, incoming("evt-1", "teacher@school.edu", "LEARN_COMPLETED"), nil)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&Event{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestProcess(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	user := registerEducator(t, svc, "teacher@school.edu")
	event, err := svc.Ingest(ctx, incoming("evt-1", "Teacher@School.edu", "LEARN_COMPLETED"), nil)
	require.NoError(t, err)

	outcome, err := svc.Process(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeProcessed, outcome)

	entry, err := svc.ledger.FindByExternalEvent(ctx, nil, ledger.ExternalSourceKajabi, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, user.ID, entry.UserID)
	require.Equal(t, int64(20), entry.DeltaPoints)

	var subs []*submission.Submission
	require.NoError(t, db.Where("user_id = ?", user.ID).Find(&subs).Error)
	require.Len(t, subs, 1)
	require.Equal(t, submission.StatusApproved, subs[0].Status)

	stored, err := svc.events.FindOne(ctx, &Event{ID: event.ID})
	require.NoError(t, err)
	require.NotNil(t, stored.ProcessedAt)
	require.NotNil(t, stored.UserMatch)
	require.Equal(t, user.ID, *stored.UserMatch)

	badges, err := svc.badges.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	codes := make([]string, 0, len(badges))
	for _, b := range badges {
		codes = append(codes, b.BadgeCode)
	}
	require.Contains(t, codes, badge.CodeLearnComplete)
}

func TestProcessIsSingleShot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	registerEducator(t, svc, "teacher@school.edu")
	event, err := svc.Ingest(ctx, incoming("evt-1", "teacher@school.edu", "LEARN_COMPLETED"), nil)
	require.NoError(t, err)

	_, err = svc.Process(ctx, event.ID)
	require.NoError(t, err)

	_, err = svc.Process(ctx, event.ID)
	require.Error(t, err)
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))
}

func TestProcessUnsupportedTag(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	registerEducator(t, svc, "teacher@school.edu")
	event, err := svc.Ingest(ctx, incoming("evt-1", "teacher@school.edu", "NEWSLETTER_SUBSCRIBED"), nil)
	require.NoError(t, err)

	outcome, err := svc.Process(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeUnsupported, outcome)

	var count int64
	require.NoError(t, db.Model(&ledger.Entry{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestProcessUnknownEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	event, err := svc.Ingest(ctx, incoming("evt-1", "nobody@school.edu", "LEARN_COMPLETED"), nil)
	require.NoError(t, err)

	_, err = svc.Process(ctx, event.ID)
	require.Error(t, err)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestProcessMissingEvent(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Process(context.Background(), "missing")
	require.Error(t, err)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestProcessDegradesToAlreadyRecorded(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	user := registerEducator(t, svc, "teacher@school.edu")
	event, err := svc.Ingest(ctx, incoming("evt-1", "teacher@school.edu", "LEARN_COMPLETED"), nil)
	require.NoError(t, err)

	// A prior attempt wrote the ledger entry but failed before marking
	// the event processed.
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.ledger.Append(ctx, tx, ledger.AppendParams{
			UserID:          user.ID,
			ActivityCode:    activity.CodeLearn,
			Source:          ledger.SourceManual,
			DeltaPoints:     20,
			ExternalSource:  ledger.ExternalSourceKajabi,
			ExternalEventID: "evt-1",
		})
		return err
	}))

	outcome, err := svc.Process(ctx, event.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyRecorded, outcome)

	var count int64
	require.NoError(t, db.Model(&ledger.Entry{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	stored, err := svc.events.FindOne(ctx, &Event{ID: event.ID})
	require.NoError(t, err)
	require.NotNil(t, stored.ProcessedAt)
}

func TestReprocessPending(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	registerEducator(t, svc, "teacher@school.edu")

	supported, err := svc.Ingest(ctx, incoming("evt-1", "teacher@school.edu", "LEARN_COMPLETED"), nil)
	require.NoError(t, err)
	unsupported, err := svc.Ingest(ctx, incoming("evt-2", "teacher@school.edu", "OTHER_TAG"), nil)
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, incoming("evt-3", "nobody@school.edu", "LEARN_COMPLETED"), nil)
	require.NoError(t, err)

	result, err := svc.ReprocessPending(ctx, -time.Second, 2)
	require.NoError(t, err)
	require.Equal(t, 3, result.Scanned)
	require.Equal(t, 1, result.Processed)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, 1, result.Failed)

	stored, err := svc.events.FindOne(ctx, &Event{ID: supported.ID})
	require.NoError(t, err)
	require.NotNil(t, stored.ProcessedAt)

	stored, err = svc.events.FindOne(ctx, &Event{ID: unsupported.ID})
	require.NoError(t, err)
	require.Nil(t, stored.ProcessedAt)
}

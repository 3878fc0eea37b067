package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"elevate-engine/pkg/config"
	"elevate-engine/pkg/db/option"
	"elevate-engine/pkg/errutil"
	"elevate-engine/pkg/repository"
	"elevate-engine/services/activity"
	"elevate-engine/services/amplify"
	"elevate-engine/services/audit"
	"elevate-engine/services/badge"
	"elevate-engine/services/ledger"
)

// adjustmentBand bounds reviewer point adjustments to ±20% of the
// activity's default points, rounded, with a floor of ±5 so low-value
// activities still allow a minimal correction.
const (
	adjustmentBand     = 0.20
	adjustmentMinBound = 5
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	loc  *time.Location

	submissions repository.Repository[Submission]
	catalog     *activity.Catalog
	guard       *amplify.Guard
	ledger      *ledger.Service
	badges      *badge.Service
	audit       *audit.Recorder
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Config  *config.Config
	Catalog *activity.Catalog
	Guard   *amplify.Guard
	Ledger  *ledger.Service
	Badges  *badge.Service
	Audit   *audit.Recorder
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,
		loc:  p.Config.Location(),

		submissions: repository.ProvideStore[Submission](p.DB),
		catalog:     p.Catalog,
		guard:       p.Guard,
		ledger:      p.Ledger,
		badges:      p.Badges,
		audit:       p.Audit,
	}
}

type ReviewParams struct {
	SubmissionID    string
	Action          Action
	ReviewerID      string
	ReviewNote      string
	PointAdjustment *int64
}

type ReviewResult struct {
	Submission    *Submission
	DeltaPoints   int64
	Warnings      []string
	AwardedBadges []string
}

// Review drives the PENDING to APPROVED/REJECTED transition. Status is
// re-read under lock inside the transaction, so of two concurrent
// reviews the second observes the terminal status and fails with a
// Conflict. All failure paths leave zero writes behind.
func (s *Service) Review(ctx context.Context, p ReviewParams) (*ReviewResult, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	logFields := []zap.Field{
		zap.String("submission_id", p.SubmissionID),
		zap.String("action", string(p.Action)),
		zap.String("reviewer_id", p.ReviewerID),
	}

	if p.Action != ActionApprove && p.Action != ActionReject {
		return nil, errutil.BadRequest("unsupported review action", nil,
			errutil.WithDetails(errutil.Detail{Field: "action", Message: string(p.Action)}))
	}

	result := &ReviewResult{Warnings: make([]string, 0)}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		sub, err := s.submissions.WithTrx(tx).FindOne(ctx,
			&Submission{ID: p.SubmissionID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if sub == nil {
			return errutil.NotFound("submission not found", nil)
		}
		if sub.Status != StatusPending {
			return errutil.Conflict("submission already reviewed", nil,
				errutil.WithDetails(errutil.Detail{Field: "status", Message: string(sub.Status)}))
		}

		act, err := s.catalog.Get(ctx, sub.ActivityCode)
		if err != nil {
			return err
		}

		if err := validateAdjustment(act.DefaultPoints, p.PointAdjustment); err != nil {
			return err
		}

		switch p.Action {
		case ActionApprove:
			return s.approve(ctx, tx, sub, act, p, result)
		default:
			return s.reject(ctx, tx, sub, p, result)
		}
	})
	if err != nil {
		zap.L().With(logFields...).Warn("review failed", zap.Error(err))
		return nil, err
	}

	zap.L().With(logFields...).Info("submission reviewed",
		zap.Int64("delta_points", result.DeltaPoints),
		zap.Strings("awarded_badges", result.AwardedBadges))
	return result, nil
}

func (s *Service) approve(ctx context.Context, tx *gorm.DB, sub *Submission, act *activity.Activity, p ReviewParams, result *ReviewResult) error {
	delta := act.DefaultPoints
	if p.PointAdjustment != nil {
		delta += *p.PointAdjustment
	}

	// Amplify caps are a precondition: a breach aborts before any write.
	if act.Stage == activity.StageAmplify {
		warnings, err := s.checkAmplify(ctx, tx, sub)
		if err != nil {
			return err
		}
		result.Warnings = append(result.Warnings, warnings...)
	}

	now := time.Now()
	if err := s.submissions.WithTrx(tx).Update(ctx, sub.ID, map[string]any{
		"status":      StatusApproved,
		"reviewer_id": p.ReviewerID,
		"review_note": p.ReviewNote,
		"updated_at":  now,
	}); err != nil {
		return err
	}

	meta := map[string]any{
		"submission_id": sub.ID,
		"reviewer_id":   p.ReviewerID,
	}
	if p.PointAdjustment != nil {
		meta["point_adjustment"] = *p.PointAdjustment
	}

	// The deterministic event id makes a client retry of the same
	// approval hit the ledger's uniqueness key instead of double-awarding.
	if _, err := s.ledger.Append(ctx, tx, ledger.AppendParams{
		UserID:          sub.UserID,
		ActivityCode:    sub.ActivityCode,
		Source:          ledger.SourceManual,
		DeltaPoints:     delta,
		ExternalSource:  ledger.ExternalSourceAdminApproval,
		ExternalEventID: fmt.Sprintf("submission_%s", sub.ID),
		EventTime:       now,
		Meta:            meta,
	}); err != nil {
		return err
	}

	if err := s.audit.Record(ctx, tx, p.ReviewerID, audit.ActionSubmissionApproved, sub.ID, map[string]any{
		"user_id":      sub.UserID,
		"delta_points": delta,
		"warnings":     result.Warnings,
	}); err != nil {
		return err
	}

	progress, err := s.ProgressFor(ctx, tx, sub.UserID)
	if err != nil {
		return err
	}
	awarded, err := s.badges.EvaluateAndAward(ctx, tx, p.ReviewerID, sub.UserID, progress)
	if err != nil {
		return err
	}

	updated := *sub
	updated.Status = StatusApproved
	updated.ReviewerID = p.ReviewerID
	updated.ReviewNote = p.ReviewNote
	updated.UpdatedAt = now

	result.Submission = &updated
	result.DeltaPoints = delta
	result.AwardedBadges = awarded
	return nil
}

// reject never touches the ledger. Rejection with a point side effect
// is a correctness bug, not a degraded mode.
func (s *Service) reject(ctx context.Context, tx *gorm.DB, sub *Submission, p ReviewParams, result *ReviewResult) error {
	now := time.Now()
	if err := s.submissions.WithTrx(tx).Update(ctx, sub.ID, map[string]any{
		"status":      StatusRejected,
		"reviewer_id": p.ReviewerID,
		"review_note": p.ReviewNote,
		"updated_at":  now,
	}); err != nil {
		return err
	}

	if err := s.audit.Record(ctx, tx, p.ReviewerID, audit.ActionSubmissionRejected, sub.ID, map[string]any{
		"user_id":     sub.UserID,
		"review_note": p.ReviewNote,
	}); err != nil {
		return err
	}

	updated := *sub
	updated.Status = StatusRejected
	updated.ReviewerID = p.ReviewerID
	updated.ReviewNote = p.ReviewNote
	updated.UpdatedAt = now

	result.Submission = &updated
	return nil
}

func (s *Service) checkAmplify(ctx context.Context, tx *gorm.DB, sub *Submission) ([]string, error) {
	candidate, err := parseAmplifyPayload(sub.Payload)
	if err != nil {
		return nil, errutil.UnprocessableEntity("malformed amplify payload", err)
	}

	priorRows, err := s.submissions.WithTrx(tx).Find(ctx, &Submission{
		UserID:       sub.UserID,
		ActivityCode: sub.ActivityCode,
		Status:       StatusApproved,
	})
	if err != nil {
		return nil, err
	}

	prior := make([]amplify.Session, 0, len(priorRows))
	for _, row := range priorRows {
		payload, err := parseAmplifyPayload(row.Payload)
		if err != nil {
			zap.L().Warn("skipping approved amplify submission with malformed payload",
				zap.String("submission_id", row.ID), zap.Error(err))
			continue
		}
		prior = append(prior, sessionOf(payload))
	}

	res, err := s.guard.Evaluate(sessionOf(candidate), prior)
	if err != nil {
		return nil, err
	}
	return res.Warnings, nil
}

func sessionOf(p *AmplifyPayload) amplify.Session {
	return amplify.Session{
		PeersTrained:     p.PeersTrained,
		StudentsTrained:  p.StudentsTrained,
		SessionDate:      p.SessionDate,
		SessionStartTime: p.SessionStartTime,
		City:             p.City,
	}
}

func validateAdjustment(defaultPoints int64, adjustment *int64) error {
	if adjustment == nil {
		return nil
	}

	bound := int64(math.Round(float64(defaultPoints) * adjustmentBand))
	if bound < adjustmentMinBound {
		bound = adjustmentMinBound
	}

	if *adjustment > bound || *adjustment < -bound {
		return errutil.ValidationFailed(
			fmt.Sprintf("point adjustment %d outside the allowed band of ±%d", *adjustment, bound),
			nil,
			errutil.WithDetails(errutil.Detail{Field: "point_adjustment", Message: "out of bounds"}),
		)
	}
	return nil
}

// ProgressFor builds the badge snapshot from the ledger and submission
// stores, inside the caller's transaction so freshly committed writes
// in the same unit of work are visible.
func (s *Service) ProgressFor(ctx context.Context, tx *gorm.DB, userID string) (badge.Progress, error) {
	total, err := s.ledger.TotalForUser(ctx, tx, userID)
	if err != nil {
		return badge.Progress{}, err
	}

	pointsByActivity, err := s.ledger.TotalsByActivity(ctx, tx, userID)
	if err != nil {
		return badge.Progress{}, err
	}

	approved, err := s.submissions.WithTrx(tx).Find(ctx, &Submission{
		UserID: userID,
		Status: StatusApproved,
	})
	if err != nil {
		return badge.Progress{}, err
	}

	approvedByActivity := make(map[string]int64)
	for _, sub := range approved {
		approvedByActivity[sub.ActivityCode]++
	}

	catalog, err := s.catalog.List(ctx)
	if err != nil {
		return badge.Progress{}, err
	}
	stageOf := make(map[string]activity.Stage, len(catalog))
	for _, act := range catalog {
		stageOf[act.Code] = act.Stage
	}

	approvedStages := make(map[activity.Stage]bool)
	for code := range approvedByActivity {
		if stage, ok := stageOf[code]; ok {
			approvedStages[stage] = true
		}
	}

	streak, err := s.ledger.StreakDays(ctx, tx, userID, s.loc)
	if err != nil {
		return badge.Progress{}, err
	}

	return badge.Progress{
		TotalPoints:         total,
		ApprovedStages:      approvedStages,
		SubmissionsApproved: int64(len(approved)),
		ApprovedByActivity:  approvedByActivity,
		PointsByActivity:    pointsByActivity,
		StreakDays:          streak,
	}, nil
}

// RecordExternalApproval creates a submission row already in APPROVED
// state, capturing the provenance of an external completion. Used by
// the reconciler, which owns the surrounding transaction.
func (s *Service) RecordExternalApproval(ctx context.Context, tx *gorm.DB, userID, activityCode string, provenance map[string]any) (*Submission, error) {
	payload, err := json.Marshal(provenance)
	if err != nil {
		return nil, err
	}

	sub := &Submission{
		ID:           s.node.Generate().String(),
		UserID:       userID,
		ActivityCode: activityCode,
		Status:       StatusApproved,
		Payload:      datatypes.JSON(payload),
	}
	if err := s.submissions.WithTrx(tx).Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Get returns one submission.
func (s *Service) Get(ctx context.Context, id string) (*Submission, error) {
	sub, err := s.submissions.FindOne(ctx, &Submission{ID: id})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, errutil.NotFound("submission not found", nil)
	}
	return sub, nil
}

// Create stores a new pending submission. The user-facing intake flow
// sits outside the engine; this is its storage seam.
func (s *Service) Create(ctx context.Context, userID, activityCode, visibility string, payload map[string]any) (*Submission, error) {
	if _, err := s.catalog.Get(ctx, activityCode); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	sub := &Submission{
		ID:           s.node.Generate().String(),
		UserID:       userID,
		ActivityCode: activityCode,
		Status:       StatusPending,
		Visibility:   visibility,
		Payload:      datatypes.JSON(raw),
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"elevate-engine/pkg/config"
	"elevate-engine/pkg/db/option"
	"elevate-engine/pkg/errutil"
	"elevate-engine/pkg/repository"
	"elevate-engine/services/activity"
	"elevate-engine/services/audit"
	"elevate-engine/services/badge"
	"elevate-engine/services/educator"
	"elevate-engine/services/ledger"
	"elevate-engine/services/submission"
)

// reconcileActor is the audit actor for automatic reconciliation.
const reconcileActor = "system"

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	learnTags map[string]bool

	events      repository.Repository[Event]
	educators   *educator.Service
	catalog     *activity.Catalog
	ledger      *ledger.Service
	submissions *submission.Service
	badges      *badge.Service
	audit       *audit.Recorder
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Config      *config.Config
	Educators   *educator.Service
	Catalog     *activity.Catalog
	Ledger      *ledger.Service
	Submissions *submission.Service
	Badges      *badge.Service
	Audit       *audit.Recorder
}

func NewService(p ServiceParams) *Service {
	learnTags := make(map[string]bool, len(p.Config.Kajabi.LearnTags))
	for _, tag := range p.Config.Kajabi.LearnTags {
		learnTags[tag] = true
	}

	return &Service{
		db:   p.DB,
		node: p.Node,

		learnTags: learnTags,

		events:      repository.ProvideStore[Event](p.DB),
		educators:   p.Educators,
		catalog:     p.Catalog,
		ledger:      p.Ledger,
		submissions: p.Submissions,
		badges:      p.Badges,
		audit:       p.Audit,
	}
}

// Ingest stores the raw provider notification. Redelivery of an
// already-stored event id returns the stored row; receipt is always a
// success so the provider stops retrying delivery.
func (s *Service) Ingest(ctx context.Context, incoming IncomingEvent, raw []byte) (*Event, error) {
	if incoming.EventID == "" {
		return nil, errutil.BadRequest("event id is required", nil)
	}

	if raw == nil {
		raw, _ = json.Marshal(incoming)
	}

	event := &Event{
		ID:           s.node.Generate().String(),
		EventID:      incoming.EventID,
		EventType:    incoming.EventType,
		TagName:      incoming.Tag.Name,
		ContactEmail: incoming.Contact.Email,
		Payload:      datatypes.JSON(raw),
		ReceivedAt:   time.Now(),
	}

	if err := s.events.Create(ctx, event); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, ferr := s.events.FindOne(ctx, &Event{EventID: incoming.EventID})
			if ferr != nil {
				return nil, ferr
			}
			zap.L().Info("event already ingested",
				zap.String("event_id", incoming.EventID))
			return existing, nil
		}
		return nil, err
	}

	return event, nil
}

// Process reconciles one stored event into a Learn-stage approval.
// Processing is single-shot per event: a processed event fails with a
// Conflict. A ledger entry that already exists for the event id (a
// prior partial failure, or a concurrent reconciliation) degrades to
// the already-recorded success path instead of erroring.
func (s *Service) Process(ctx context.Context, id string) (Outcome, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	event, err := s.events.FindOne(ctx, &Event{ID: id})
	if err != nil {
		return "", err
	}
	if event == nil {
		return "", errutil.NotFound("event not found", nil)
	}
	if event.ProcessedAt != nil {
		return "", errutil.Conflict("event already processed", nil)
	}

	if !s.learnTags[event.TagName] {
		zap.L().Info("ignoring unsupported event tag",
			zap.String("event_id", event.EventID), zap.String("tag", event.TagName))
		return OutcomeUnsupported, nil
	}

	user, err := s.educators.FindByEmail(ctx, event.ContactEmail)
	if err != nil {
		return "", err
	}

	existing, err := s.ledger.FindByExternalEvent(ctx, nil, ledger.ExternalSourceKajabi, event.EventID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if err := s.markProcessed(ctx, nil, event, user.ID); err != nil {
			return "", err
		}
		return OutcomeAlreadyRecorded, nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.reconcile(ctx, tx, event, user)
	})
	if err != nil {
		// A concurrent reconciliation won the ledger insert. Confirm the
		// row and degrade to already-recorded.
		if errutil.StatusOf(err) == errutil.StatusConflict {
			if markErr := s.markProcessed(ctx, nil, event, user.ID); markErr != nil {
				return "", markErr
			}
			return OutcomeAlreadyRecorded, nil
		}
		return "", err
	}

	return OutcomeProcessed, nil
}

func (s *Service) reconcile(ctx context.Context, tx *gorm.DB, event *Event, user *educator.Educator) error {
	learn, err := s.catalog.Get(ctx, activity.CodeLearn)
	if err != nil {
		return err
	}

	if _, err := s.ledger.Append(ctx, tx, ledger.AppendParams{
		UserID:          user.ID,
		ActivityCode:    learn.Code,
		Source:          ledger.SourceManual,
		DeltaPoints:     learn.DefaultPoints,
		ExternalSource:  ledger.ExternalSourceKajabi,
		ExternalEventID: event.EventID,
		EventTime:       event.ReceivedAt,
		Meta: map[string]any{
			"event_id": event.EventID,
			"tag":      event.TagName,
		},
	}); err != nil {
		return err
	}

	// The provider is the authority on completion; the submission row
	// exists as the audit trail of the approval.
	if _, err := s.submissions.RecordExternalApproval(ctx, tx, user.ID, learn.Code, map[string]any{
		"external_source":   ledger.ExternalSourceKajabi,
		"external_event_id": event.EventID,
		"tag":               event.TagName,
		"contact_email":     event.ContactEmail,
	}); err != nil {
		return err
	}

	if err := s.audit.Record(ctx, tx, reconcileActor, audit.ActionEventReconciled, event.EventID, map[string]any{
		"user_id":      user.ID,
		"delta_points": learn.DefaultPoints,
	}); err != nil {
		return err
	}

	if err := s.markProcessed(ctx, tx, event, user.ID); err != nil {
		return err
	}

	progress, err := s.submissions.ProgressFor(ctx, tx, user.ID)
	if err != nil {
		return err
	}
	if _, err := s.badges.EvaluateAndAward(ctx, tx, reconcileActor, user.ID, progress); err != nil {
		return err
	}

	return nil
}

func (s *Service) markProcessed(ctx context.Context, tx *gorm.DB, event *Event, userID string) error {
	return s.events.WithTrx(tx).Update(ctx, event.ID, map[string]any{
		"processed_at": time.Now(),
		"user_match":   userID,
	})
}

type ReprocessResult struct {
	Scanned   int
	Processed int
	Skipped   int
	Failed    int
}

// ReprocessPending reconciles events that were received before the
// grace period and never marked processed, a bounded number at a time.
// Failures are isolated per event; Process's idempotency makes a rerun
// of the whole scan safe.
func (s *Service) ReprocessPending(ctx context.Context, grace time.Duration, concurrency int) (*ReprocessResult, error) {
	if concurrency <= 0 {
		concurrency = 4
	}

	pending, err := s.events.Find(ctx, &Event{},
		option.IsNull("processed_at"),
		option.ApplyOperator(option.Condition{
			Field:    "received_at",
			Operator: option.LT,
			Value:    time.Now().Add(-grace),
		}),
	)
	if err != nil {
		return nil, err
	}

	result := &ReprocessResult{Scanned: len(pending)}

	var g errgroup.Group
	g.SetLimit(concurrency)

	results := make([]Outcome, len(pending))
	failures := make([]error, len(pending))
	for i, event := range pending {
		g.Go(func() error {
			outcome, err := s.Process(ctx, event.ID)
			results[i] = outcome
			failures[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, event := range pending {
		switch {
		case failures[i] != nil:
			result.Failed++
			zap.L().Warn("reprocessing failed",
				zap.String("event_id", event.EventID), zap.Error(failures[i]))
		case results[i] == OutcomeUnsupported:
			result.Skipped++
		default:
			result.Processed++
		}
	}

	return result, nil
}

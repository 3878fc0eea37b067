package webhook

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"elevate-engine/pkg/errutil"
	"elevate-engine/pkg/rediskey"
	"elevate-engine/pkg/task"
)

const TaskTypeReconcile = "webhook:reconcile"

type reconcilePayload struct {
	ID string `json:"id"`
}

// Dispatcher enqueues reconciliation work for stored events.
type Dispatcher struct {
	enqueuer task.Enqueuer
}

func NewDispatcher(enqueuer task.Enqueuer) *Dispatcher {
	return &Dispatcher{enqueuer: enqueuer}
}

func (d *Dispatcher) EnqueueReconcile(eventID string) error {
	payload, err := json.Marshal(reconcilePayload{ID: eventID})
	if err != nil {
		return err
	}

	// The task id pins one queued reconciliation per event, so a
	// redelivered webhook does not fan out into parallel workers.
	_, err = d.enqueuer.Enqueue(
		asynq.NewTask(TaskTypeReconcile, payload),
		asynq.Queue("webhooks"),
		asynq.TaskID(rediskey.BuildEventKey(eventID)),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			zap.L().Info("reconciliation already queued", zap.String("event_row_id", eventID))
			return nil
		}
		return err
	}

	zap.L().Info("enqueued reconciliation", zap.String("event_row_id", eventID))
	return nil
}

// HandleReconcileTask is the asynq worker entrypoint. Terminal
// outcomes return nil so asynq does not retry; a missing educator is
// retried under the queue's backoff in case registration lags the
// completion event.
func (s *Service) HandleReconcileTask(ctx context.Context, t *asynq.Task) error {
	var payload reconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid reconcile payload", zap.Error(err))
		return err
	}

	outcome, err := s.Process(ctx, payload.ID)
	if err != nil {
		if errutil.StatusOf(err) == errutil.StatusConflict {
			zap.L().Info("event already processed", zap.String("event_row_id", payload.ID))
			return nil
		}
		zap.L().Warn("reconciliation failed",
			zap.String("event_row_id", payload.ID), zap.Error(err))
		return err
	}

	zap.L().Info("reconciliation finished",
		zap.String("event_row_id", payload.ID),
		zap.String("outcome", string(outcome)))
	return nil
}

func RegisterHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(TaskTypeReconcile, svc.HandleReconcileTask)
}

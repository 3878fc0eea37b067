package submission

import (
	"context"

	"go.uber.org/zap"
)

type BulkError struct {
	SubmissionID string `json:"submission_id"`
	Error        string `json:"error"`
}

type BulkResult struct {
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Errors    []BulkError `json:"errors"`
}

// BulkReview applies the same review action to each id in its own
// transaction. Failures are isolated per id and reported, never
// aborting the rest of the batch.
func (s *Service) BulkReview(ctx context.Context, ids []string, action Action, reviewerID, reviewNote string) *BulkResult {
	result := &BulkResult{Errors: make([]BulkError, 0)}

	for _, id := range ids {
		_, err := s.Review(ctx, ReviewParams{
			SubmissionID: id,
			Action:       action,
			ReviewerID:   reviewerID,
			ReviewNote:   reviewNote,
		})
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkError{SubmissionID: id, Error: err.Error()})
			continue
		}
		result.Processed++
	}

	if result.Failed > 0 {
		zap.L().Warn("bulk review finished with failures",
			zap.Int("processed", result.Processed),
			zap.Int("failed", result.Failed))
	}
	return result
}

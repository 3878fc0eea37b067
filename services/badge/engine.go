package badge

import (
	"encoding/json"

	"go.uber.org/zap"

	"elevate-engine/services/activity"
)

// Progress is the aggregated per-user snapshot the award rules run
// over. Callers build it from the ledger and submission stores; the
// engine itself never reads storage.
type Progress struct {
	TotalPoints         int64
	ApprovedStages      map[activity.Stage]bool
	SubmissionsApproved int64
	ApprovedByActivity  map[string]int64
	PointsByActivity    map[string]int64
	StreakDays          int64
	AlreadyEarned       map[string]bool
}

func (p Progress) earned(code string) bool {
	return p.AlreadyEarned[code]
}

// BadgesToAward maps a progress snapshot to the badge codes now
// eligible. Rules are independent; the order is fixed so results are
// deterministic: stage badges in program order, milestones ascending,
// then catalog criteria badges in catalog order. Calling it again with
// the awarded codes folded into AlreadyEarned returns none of them a
// second time.
func BadgesToAward(progress Progress, catalog []*Badge, eval *Evaluator) []string {
	award := make([]string, 0)

	for _, sb := range StageBadgeCodes {
		if progress.ApprovedStages[sb.Stage] && !progress.earned(sb.Code) {
			award = append(award, sb.Code)
		}
	}

	for _, mb := range MilestoneBadges {
		if progress.TotalPoints >= mb.Threshold && !progress.earned(mb.Code) {
			award = append(award, mb.Code)
		}
	}

	builtin := make(map[string]bool, len(StageBadgeCodes)+len(MilestoneBadges))
	for _, sb := range StageBadgeCodes {
		builtin[sb.Code] = true
	}
	for _, mb := range MilestoneBadges {
		builtin[mb.Code] = true
	}

	for _, b := range catalog {
		if builtin[b.Code] || progress.earned(b.Code) || len(b.Criteria) == 0 {
			continue
		}
		criteria, err := parseCriteria(b)
		if err != nil {
			zap.L().Warn("skipping badge with malformed criteria",
				zap.String("badge_code", b.Code), zap.Error(err))
			continue
		}
		if criteriaMet(criteria, progress, eval, b.Code) {
			award = append(award, b.Code)
		}
	}

	return award
}

func parseCriteria(b *Badge) (*Criteria, error) {
	raw, err := json.Marshal(b.Criteria)
	if err != nil {
		return nil, err
	}
	var c Criteria
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func criteriaMet(c *Criteria, progress Progress, eval *Evaluator, badgeCode string) bool {
	var met bool
	switch c.Type {
	case CriteriaPoints:
		if len(c.ActivityCodes) > 0 {
			var points int64
			for _, code := range c.ActivityCodes {
				points += progress.PointsByActivity[code]
			}
			met = points >= c.Threshold
		} else {
			met = progress.TotalPoints >= c.Threshold
		}
	case CriteriaSubmissions:
		if len(c.ActivityCodes) > 0 {
			var count int64
			for _, code := range c.ActivityCodes {
				count += progress.ApprovedByActivity[code]
			}
			met = count >= c.Threshold
		} else {
			met = progress.SubmissionsApproved >= c.Threshold
		}
	case CriteriaActivities:
		var distinct int64
		if len(c.ActivityCodes) > 0 {
			for _, code := range c.ActivityCodes {
				if progress.ApprovedByActivity[code] > 0 {
					distinct++
				}
			}
		} else {
			for _, count := range progress.ApprovedByActivity {
				if count > 0 {
					distinct++
				}
			}
		}
		met = distinct >= c.Threshold
	case CriteriaStreak:
		met = progress.StreakDays >= c.Threshold
	default:
		return false
	}

	if !met || c.Condition == "" {
		return met
	}

	ok, err := eval.Evaluate(c.Condition, progress.celVars())
	if err != nil {
		zap.L().Warn("badge condition evaluation failed",
			zap.String("badge_code", badgeCode), zap.Error(err))
		return false
	}
	return ok
}

func (p Progress) celVars() map[string]any {
	stages := make(map[string]bool, len(p.ApprovedStages))
	for stage, ok := range p.ApprovedStages {
		stages[string(stage)] = ok
	}
	return map[string]any{
		"total_points":         p.TotalPoints,
		"submissions_approved": p.SubmissionsApproved,
		"streak_days":          p.StreakDays,
		"approved_stages":      stages,
		"approved_by_activity": p.ApprovedByActivity,
		"points_by_activity":   p.PointsByActivity,
	}
}

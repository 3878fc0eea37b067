package amplify

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/fx"

	"elevate-engine/pkg/config"
	"elevate-engine/pkg/errutil"
)

const (
	// WarnDuplicateSession flags a prior approved session on the same
	// date, in the same city, starting within the detection window.
	// Duplicates are a soft signal for the reviewer; caps are the hard limit.
	WarnDuplicateSession = "DUPLICATE_SESSION_SUSPECT"

	// WarnIncompleteMetadata notes that a duplicate comparison was
	// skipped because a session is missing its start time or city.
	WarnIncompleteMetadata = "INCOMPLETE_SESSION_METADATA"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Caps bound the self-reported training numbers over a rolling 7-day window.
type Caps struct {
	PeersPer7d    int
	StudentsPer7d int
}

// Session is the Amplify payload slice the guard reasons about. Dates
// and times are the self-reported wall-clock strings from the form.
type Session struct {
	PeersTrained     int
	StudentsTrained  int
	SessionDate      string
	SessionStartTime string
	City             string
}

type Result struct {
	Warnings []string
}

// Guard evaluates a candidate Amplify session against the user's prior
// approved sessions. It is pure: the caller pre-fetches the prior
// sessions and the guard touches no storage.
type Guard struct {
	caps      Caps
	dupWindow time.Duration
	loc       *time.Location
}

func NewGuard(cfg *config.Config) *Guard {
	return &Guard{
		caps: Caps{
			PeersPer7d:    cfg.Amplify.PeersPer7d,
			StudentsPer7d: cfg.Amplify.StudentsPer7d,
		},
		dupWindow: time.Duration(cfg.Amplify.DupWindowMinutes) * time.Minute,
		loc:       cfg.Location(),
	}
}

// NewGuardWith builds a guard from explicit policy values.
func NewGuardWith(caps Caps, dupWindow time.Duration, loc *time.Location) *Guard {
	if loc == nil {
		loc = time.UTC
	}
	return &Guard{caps: caps, dupWindow: dupWindow, loc: loc}
}

// Evaluate enforces the rolling 7-day caps and flags suspected
// duplicate sessions. A breached cap is a hard reject with no partial
// award; everything else comes back as warnings.
func (g *Guard) Evaluate(candidate Session, prior []Session) (*Result, error) {
	candidateDate, err := time.ParseInLocation(dateLayout, candidate.SessionDate, g.loc)
	if err != nil {
		return nil, errutil.BadRequest("invalid session date", err,
			errutil.WithDetails(errutil.Detail{Field: "session_date", Message: "expected YYYY-MM-DD"}))
	}

	// The window covers the 7 calendar days ending at the candidate's
	// session date, computed in the organization timezone so a session
	// near midnight cannot slip into the wrong day.
	windowStart := candidateDate.AddDate(0, 0, -6)

	peers := candidate.PeersTrained
	students := candidate.StudentsTrained
	for _, p := range prior {
		d, err := time.ParseInLocation(dateLayout, p.SessionDate, g.loc)
		if err != nil {
			continue
		}
		if d.Before(windowStart) || d.After(candidateDate) {
			continue
		}
		peers += p.PeersTrained
		students += p.StudentsTrained
	}

	if g.caps.PeersPer7d > 0 && peers > g.caps.PeersPer7d {
		return nil, errutil.TooManyRequest(
			fmt.Sprintf("peers trained would reach %d, over the 7-day cap of %d", peers, g.caps.PeersPer7d),
			nil,
			errutil.WithDetails(errutil.Detail{Field: "peers_trained", Message: "7-day cap exceeded"}),
		)
	}
	if g.caps.StudentsPer7d > 0 && students > g.caps.StudentsPer7d {
		return nil, errutil.TooManyRequest(
			fmt.Sprintf("students trained would reach %d, over the 7-day cap of %d", students, g.caps.StudentsPer7d),
			nil,
			errutil.WithDetails(errutil.Detail{Field: "students_trained", Message: "7-day cap exceeded"}),
		)
	}

	return &Result{Warnings: g.duplicateWarnings(candidate, prior)}, nil
}

func (g *Guard) duplicateWarnings(candidate Session, prior []Session) []string {
	warnings := make([]string, 0)

	sameDate := make([]Session, 0)
	for _, p := range prior {
		if p.SessionDate == candidate.SessionDate {
			sameDate = append(sameDate, p)
		}
	}
	if len(sameDate) == 0 {
		return warnings
	}

	candidateStart, candidateOK := parseStartTime(candidate.SessionStartTime)
	candidateCity := normalizeCity(candidate.City)

	incomplete := false
	duplicate := false
	for _, p := range sameDate {
		priorStart, priorOK := parseStartTime(p.SessionStartTime)
		priorCity := normalizeCity(p.City)

		// A comparison with missing metadata is skipped, never silently
		// treated as "not a duplicate".
		if !candidateOK || !priorOK || candidateCity == "" || priorCity == "" {
			incomplete = true
			continue
		}

		if priorCity != candidateCity {
			continue
		}
		if absDuration(candidateStart.Sub(priorStart)) <= g.dupWindow {
			duplicate = true
		}
	}

	if duplicate {
		warnings = append(warnings, WarnDuplicateSession)
	}
	if incomplete {
		warnings = append(warnings, WarnIncompleteMetadata)
	}
	return warnings
}

func parseStartTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

var Module = fx.Module("amplify.guard",
	fx.Provide(NewGuard),
)

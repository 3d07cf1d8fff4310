package schedule

import "time"

// OverlapResult reports whether a candidate interval collides with occupied
// time, and the nearest occupied boundary on each violated side. When the
// candidate spans several existing intervals only the tightest boundary per
// side is reported: the latest end among intervals intruded from the left,
// the earliest start among intervals intruded from the right.
type OverlapResult struct {
	Overlaps       bool
	StartViolation *time.Time
	EndViolation   *time.Time
}

// DetectOverlap checks candidate against the intervals already occupying the
// same day (candidate itself excluded by the caller). Half-open semantics:
// candidate.From == existing.To is not a collision.
func DetectOverlap(candidate Interval, existing []Interval) OverlapResult {
	var res OverlapResult
	for _, e := range existing {
		if !candidate.Overlaps(e) {
			continue
		}
		res.Overlaps = true
		if !e.From.After(candidate.From) {
			// e starts at or before the candidate: the candidate's start
			// sits inside occupied time ending at e.To.
			if res.StartViolation == nil || e.To.After(*res.StartViolation) {
				end := e.To
				res.StartViolation = &end
			}
		} else {
			// e starts after the candidate's start: the candidate's end
			// runs into occupied time beginning at e.From.
			if res.EndViolation == nil || e.From.Before(*res.EndViolation) {
				start := e.From
				res.EndViolation = &start
			}
		}
	}
	return res
}

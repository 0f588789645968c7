// Package matcher pairs external fitness records with internal activities.
package matcher

import (
	"time"

	"clubsync/internal/database"
)

// Matching tolerances
const (
	// TimeWindow is the allowed gap between external and internal start
	// times, applied in both directions
	TimeWindow = time.Hour

	// DistanceToleranceKm is the allowed difference between external and
	// internal distances when both are known
	DistanceToleranceKm = 5.0
)

// Confidence is the qualitative strength of an automated match. It decides
// UI wording only; every match still waits for human confirmation.
type Confidence int

const (
	// ConfidenceNone means no candidate matched
	ConfidenceNone Confidence = iota
	// ConfidenceHigh means the user already participates in the matched activity
	ConfidenceHigh
	// ConfidenceMedium means the match came from a club the user belongs to
	ConfidenceMedium
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return database.PendingConfidenceHigh
	case ConfidenceMedium:
		return database.PendingConfidenceMedium
	default:
		return ""
	}
}

// ExternalActivity is the slice of a provider record the matcher needs
type ExternalActivity struct {
	StartAt    time.Time
	DistanceKm *float64
}

// CandidateSet holds the two candidate lists for a user, each already
// restricted to completed/upcoming activities and ordered by start time
// ascending. That query order is the tie-break: the first candidate that
// fits wins, not the closest one.
type CandidateSet struct {
	// Participant activities the user is registered in
	Participant []*database.Activity
	// Membership activities owned by clubs the user actively belongs to,
	// excluding ones the user already participates in
	Membership []*database.Activity
}

// Match maps an external activity to the best internal candidate and a
// confidence tier. Returns (nil, ConfidenceNone) when nothing fits.
func Match(ext ExternalActivity, candidates CandidateSet) (*database.Activity, Confidence) {
	if a := firstFit(ext, candidates.Participant); a != nil {
		return a, ConfidenceHigh
	}
	if a := firstFit(ext, candidates.Membership); a != nil {
		return a, ConfidenceMedium
	}
	return nil, ConfidenceNone
}

// firstFit returns the first candidate inside the time window and distance
// tolerance, preserving the input order
func firstFit(ext ExternalActivity, candidates []*database.Activity) *database.Activity {
	for _, a := range candidates {
		if !inWindow(ext.StartAt, a.StartAt) {
			continue
		}
		if !distanceFits(ext.DistanceKm, a.DistanceKm) {
			continue
		}
		if a.Status != database.ActivityCompleted && a.Status != database.ActivityUpcoming {
			continue
		}
		return a
	}
	return nil
}

// inWindow checks |external - internal| <= TimeWindow, inclusive at both ends
func inWindow(extStart, actStart time.Time) bool {
	diff := extStart.Sub(actStart)
	if diff < 0 {
		diff = -diff
	}
	return diff <= TimeWindow
}

// distanceFits applies the tolerance only when both sides report a distance
func distanceFits(ext, act *float64) bool {
	if ext == nil || act == nil {
		return true
	}
	diff := *ext - *act
	if diff < 0 {
		diff = -diff
	}
	return diff <= DistanceToleranceKm
}

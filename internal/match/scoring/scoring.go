// Package scoring computes compatibility scores for organ-receiver pairings.
//
// The score is a deterministic pure function of donor and receiver attributes
// at the moment of scoring; it is never re-computed retroactively. Weights:
//
//	blood-type compatibility  40
//	HLA marker overlap        30
//	waiting-list urgency      20
//	donor/receiver age gap    10
//
// The sum cannot exceed 100 with these weights; the cap is defensive.
package scoring

import (
	"math"
	"sort"
	"strings"
	"time"

	"allograft/internal/match/models"
	pstrings "allograft/pkg/platform/strings"
)

// MaxScore bounds every result.
const MaxScore = 100

const (
	bloodWeight   = 40
	hlaWeight     = 30
	urgencyWeight = 4 // per urgency step below 5
	ageWeight     = 10
)

// Score computes the compatibility score for a donor profile and receiver,
// in [0,100]. Ages are taken relative to now.
func Score(donor models.DonorProfile, receiver *models.Receiver, now time.Time) int {
	score := 0

	if donor.BloodType.CanDonateTo(receiver.BloodType) {
		score += bloodWeight
	}

	score += int(math.Round(hlaWeight * hlaOverlap(donor.HLAType, receiver.HLAType)))

	// Urgency 1 (most urgent) earns the full 16; urgency 5 earns nothing.
	if receiver.UrgencyStatus >= models.UrgencyMost && receiver.UrgencyStatus <= models.UrgencyLeast {
		score += urgencyWeight * (models.UrgencyLeast - receiver.UrgencyStatus)
	}

	score += agePoints(donor.DateOfBirth, receiver.DateOfBirth, now)

	if score > MaxScore {
		score = MaxScore
	}
	return score
}

// hlaOverlap returns |intersection| / max(len(donor), len(receiver)) over
// comma-separated marker lists, or 0 when either side is absent.
func hlaOverlap(donorHLA, receiverHLA string) float64 {
	donorMarkers := splitMarkers(donorHLA)
	receiverMarkers := splitMarkers(receiverHLA)
	if len(donorMarkers) == 0 || len(receiverMarkers) == 0 {
		return 0
	}

	receiverSet := make(map[string]struct{}, len(receiverMarkers))
	for _, m := range receiverMarkers {
		receiverSet[m] = struct{}{}
	}

	matches := 0
	for _, m := range donorMarkers {
		if _, ok := receiverSet[m]; ok {
			matches++
		}
	}

	denom := len(donorMarkers)
	if len(receiverMarkers) > denom {
		denom = len(receiverMarkers)
	}
	return float64(matches) / float64(denom)
}

// splitMarkers parses a comma-separated HLA list. Duplicate markers are
// collapsed so a repeated marker cannot inflate the overlap ratio.
func splitMarkers(hla string) []string {
	if strings.TrimSpace(hla) == "" {
		return nil
	}
	return pstrings.DedupeAndTrim(strings.Split(hla, ","))
}

// agePoints bands the absolute age difference in whole years. The 10-point
// age term scaled by factors 1.0/0.8/0.6/0.4/0.2 always lands on whole
// points, so the bands are kept in integers.
func agePoints(donorDOB, receiverDOB time.Time, now time.Time) int {
	diff := ageInYears(donorDOB, now) - ageInYears(receiverDOB, now)
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff <= 10:
		return ageWeight
	case diff <= 20:
		return ageWeight * 8 / 10
	case diff <= 30:
		return ageWeight * 6 / 10
	case diff <= 40:
		return ageWeight * 4 / 10
	default:
		return ageWeight * 2 / 10
	}
}

// ageInYears is calendar-correct: the year is not counted until the
// anniversary month and day have passed.
func ageInYears(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	anniversary := dob.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	return years
}

// Candidate pairs a receiver with its computed score.
type Candidate struct {
	Receiver *models.Receiver
	Score    int
}

// SortCandidates orders candidates by score descending, breaking ties by
// urgency (most urgent first) so ranking is stable for equal scores.
func SortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Receiver.UrgencyStatus < candidates[j].Receiver.UrgencyStatus
	})
}

package did

import (
	"context"
	"math"
)

// SpamReport is what the reputation collaborator knows about a number.
type SpamReport struct {
	Complaints int  `json:"complaints"`
	Filtered   bool `json:"filtered"`
	// Reputation is 0..100, higher is better.
	Reputation float64 `json:"reputation"`
}

// ReputationChecker looks up carrier/spam-registry reputation for a number.
type ReputationChecker interface {
	SpamScore(ctx context.Context, number string) (SpamReport, error)
}

const (
	answerWeight  = 40.0
	failureWeight = 30.0
	spamWeight    = 30.0
)

// computeHealth combines call history with a reputation report.
// When rep is nil the DID's last known SpamScore is reused.
func computeHealth(d DID, rep *SpamReport) HealthScore {
	var hs HealthScore

	if d.TotalCalls > 0 {
		hs.AnswerPoints = answerWeight * d.answerRate()
		hs.FailurePoints = failureWeight * (1 - d.failRate())
	} else {
		// No history: neutral answer component, no failures observed.
		hs.AnswerPoints = answerWeight / 2
		hs.FailurePoints = failureWeight
	}

	if rep != nil {
		pts := spamWeight * clamp(rep.Reputation, 0, 100) / 100
		if rep.Filtered {
			pts -= spamWeight / 2
		}
		pts -= 2 * float64(rep.Complaints)
		hs.SpamPoints = clamp(pts, 0, spamWeight)
		hs.SpamScore = round2((spamWeight - hs.SpamPoints) / spamWeight * 100)
	} else {
		hs.SpamScore = clamp(d.SpamScore, 0, 100)
		hs.SpamPoints = spamWeight * (1 - hs.SpamScore/100)
	}

	hs.AnswerPoints = round2(hs.AnswerPoints)
	hs.FailurePoints = round2(hs.FailurePoints)
	hs.SpamPoints = round2(hs.SpamPoints)
	hs.Score = round2(clamp(hs.AnswerPoints+hs.FailurePoints+hs.SpamPoints, 0, 100))
	hs.Recommendation = Recommend(hs.Score)
	return hs
}

// Recommend maps a score to its usage band.
func Recommend(score float64) Recommendation {
	switch {
	case score >= 80:
		return RecommendKeep
	case score >= 60:
		return RecommendMonitor
	case score >= 40:
		return RecommendReduce
	default:
		return RecommendRetire
	}
}

func (d DID) answeredClamped() int {
	if d.AnsweredCalls > d.TotalCalls {
		return d.TotalCalls
	}
	return d.AnsweredCalls
}

func (d DID) failedClamped() int {
	if d.FailedCalls > d.TotalCalls {
		return d.TotalCalls
	}
	return d.FailedCalls
}

func (d DID) answerRate() float64 {
	if d.TotalCalls == 0 {
		return 0
	}
	return float64(d.answeredClamped()) / float64(d.TotalCalls)
}

func (d DID) failRate() float64 {
	if d.TotalCalls == 0 {
		return 0
	}
	return float64(d.failedClamped()) / float64(d.TotalCalls)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

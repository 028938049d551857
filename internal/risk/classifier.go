// Package risk maps a pair of trust scores to a risk tier and the
// procedural constraints that tier imposes on a trade.
package risk

import (
	"fmt"

	"github.com/vanshika/swapguard/internal/domain"
)

// FallbackLevel is applied when a party's score could not be computed.
const FallbackLevel = domain.HighRisk

// Tier is one row of the policy table.
type Tier struct {
	Level          domain.RiskLevel
	MinScore       int
	Constraints    domain.Constraints
	Recommendation string
}

// tiers is indexed by level so every declared level must have a row.
var tiers = [domain.RiskLevelCount]Tier{
	domain.LowRisk: {
		Level:    domain.LowRisk,
		MinScore: 80,
		Constraints: domain.Constraints{
			MaxDeliveryDays: 14,
		},
		Recommendation: "Both traders are well established. Ship when ready and confirm delivery on arrival.",
	},
	domain.MediumRisk: {
		Level:    domain.MediumRisk,
		MinScore: 60,
		Constraints: domain.Constraints{
			PhotosRequired:  true,
			MaxDeliveryDays: 10,
		},
		Recommendation: "Photograph your items before shipping so both sides have evidence of their condition.",
	},
	domain.HighRisk: {
		Level:    domain.HighRisk,
		MinScore: 40,
		Constraints: domain.Constraints{
			PhotosRequired:   true,
			TrackingRequired: true,
			MaxDeliveryDays:  7,
		},
		Recommendation: "Submit photos and ship with a tracked service. Report any problem as soon as it appears.",
	},
	domain.VeryHighRisk: {
		Level:    domain.VeryHighRisk,
		MinScore: 0,
		Constraints: domain.Constraints{
			PhotosRequired:    true,
			TrackingRequired:  true,
			MaxDeliveryDays:   5,
			RequiresInsurance: true,
		},
		Recommendation: "One participant has a low trust score. Photos, tracked and insured shipping are mandatory.",
	},
}

// evaluationOrder is checked top-down; the first tier whose floor the
// lowest score meets wins.
var evaluationOrder = [domain.RiskLevelCount]domain.RiskLevel{
	domain.LowRisk,
	domain.MediumRisk,
	domain.HighRisk,
	domain.VeryHighRisk,
}

func init() {
	for i, tier := range tiers {
		if tier.Level != domain.RiskLevel(i) || tier.Recommendation == "" || tier.Constraints.MaxDeliveryDays <= 0 {
			panic(fmt.Sprintf("risk: policy table row %d is incomplete", i))
		}
	}
	if tiers[evaluationOrder[len(evaluationOrder)-1]].MinScore != 0 {
		panic("risk: last tier must accept every score")
	}
}

// Assessment is the classifier output.
type Assessment struct {
	RiskLevel      domain.RiskLevel   `json:"riskLevel"`
	Constraints    domain.Constraints `json:"constraints"`
	Recommendation string             `json:"recommendation"`
	LowestScore    int                `json:"lowestScore"`
	Degraded       bool               `json:"degraded,omitempty"`
}

// Classify assigns the tier for the weaker of the two scores. Scores
// outside [0,100] are clamped.
func Classify(scoreA, scoreB int) Assessment {
	lowest := clampScore(min(scoreA, scoreB))
	for _, level := range evaluationOrder {
		if lowest >= tiers[level].MinScore {
			return assessment(level, lowest)
		}
	}
	// Unreachable: the last tier's floor is zero.
	return assessment(domain.VeryHighRisk, lowest)
}

// ClassifyWithFallback classifies scores whose computation may have failed.
// Any failure yields at least FallbackLevel, or the stricter tier of a
// score that did compute.
func ClassifyWithFallback(scoreA int, errA error, scoreB int, errB error) Assessment {
	switch {
	case errA == nil && errB == nil:
		return Classify(scoreA, scoreB)
	case errA != nil && errB != nil:
		a := ForLevel(FallbackLevel)
		a.LowestScore = clampScore(min(scoreA, scoreB))
		a.Degraded = true
		return a
	}

	healthy := scoreA
	if errA != nil {
		healthy = scoreB
	}
	level := domain.Stricter(FallbackLevel, Classify(healthy, healthy).RiskLevel)
	a := assessment(level, clampScore(min(scoreA, scoreB)))
	a.Degraded = true
	return a
}

// ForLevel returns the assessment for a fixed tier.
func ForLevel(level domain.RiskLevel) Assessment {
	if !level.Valid() {
		level = FallbackLevel
	}
	return assessment(level, tiers[level].MinScore)
}

// Tiers returns a copy of the policy table in evaluation order.
func Tiers() []Tier {
	out := make([]Tier, 0, len(evaluationOrder))
	for _, level := range evaluationOrder {
		out = append(out, tiers[level])
	}
	return out
}

func assessment(level domain.RiskLevel, lowest int) Assessment {
	tier := tiers[level]
	return Assessment{
		RiskLevel:      tier.Level,
		Constraints:    tier.Constraints,
		Recommendation: tier.Recommendation,
		LowestScore:    lowest,
	}
}

func clampScore(s int) int {
	return max(0, min(100, s))
}

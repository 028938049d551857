package domain

import "fmt"

// RiskLevel is the closed set of risk tiers, ordered from least to most
// friction.
type RiskLevel int

const (
	LowRisk RiskLevel = iota
	MediumRisk
	HighRisk
	VeryHighRisk

	// RiskLevelCount sizes per-tier lookup tables.
	RiskLevelCount
)

var riskLevelNames = [RiskLevelCount]string{
	LowRisk:      "LOW_RISK",
	MediumRisk:   "MEDIUM_RISK",
	HighRisk:     "HIGH_RISK",
	VeryHighRisk: "VERY_HIGH_RISK",
}

func (l RiskLevel) String() string {
	if l < 0 || l >= RiskLevelCount {
		return fmt.Sprintf("RiskLevel(%d)", int(l))
	}
	return riskLevelNames[l]
}

// Valid reports whether l is one of the declared tiers.
func (l RiskLevel) Valid() bool {
	return l >= 0 && l < RiskLevelCount
}

// MarshalText encodes the tier by name.
func (l RiskLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid risk level %d", int(l))
	}
	return []byte(riskLevelNames[l]), nil
}

// UnmarshalText decodes a tier name.
func (l *RiskLevel) UnmarshalText(text []byte) error {
	level, err := ParseRiskLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}

// ParseRiskLevel maps a tier name back to its value.
func ParseRiskLevel(name string) (RiskLevel, error) {
	for i, n := range riskLevelNames {
		if n == name {
			return RiskLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown risk level %q", name)
}

// Stricter returns whichever of a and b demands more friction.
func Stricter(a, b RiskLevel) RiskLevel {
	if a > b {
		return a
	}
	return b
}

// Constraints is the procedural requirement set frozen onto a trade.
type Constraints struct {
	PhotosRequired    bool `json:"photosRequired"`
	TrackingRequired  bool `json:"trackingRequired"`
	MaxDeliveryDays   int  `json:"maxDeliveryDays"`
	RequiresInsurance bool `json:"requiresInsurance"`
}

package generator

// Config drives the synthetic profile generator. The chances partition the
// population into archetypes; whatever they leave over is established
// traders.
type Config struct {
	NumUsers          int
	NewcomerChance    float64
	TroubledChance    float64
	CancellerChance   float64
	MaxYearsActive    int
	MaxCompletedTrade int
	Seed              int64
}

// DefaultConfig returns a population that lands in every risk tier.
func DefaultConfig() Config {
	return Config{
		NumUsers:          1000,
		NewcomerChance:    0.25,
		TroubledChance:    0.15,
		CancellerChance:   0.1,
		MaxYearsActive:    5,
		MaxCompletedTrade: 60,
		Seed:              42,
	}
}

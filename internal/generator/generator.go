package generator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/vanshika/swapguard/internal/domain"
	"github.com/vanshika/swapguard/internal/service"
)

// Dataset contains the generated reputation records.
type Dataset struct {
	Profiles []service.ProfileInput `json:"profiles"`
}

// Archetype labels the behaviour a synthetic profile was drawn from.
type Archetype string

const (
	ArchetypeNewcomer    Archetype = "newcomer"
	ArchetypeEstablished Archetype = "established"
	ArchetypeTroubled    Archetype = "troubled"
	ArchetypeCanceller   Archetype = "canceller"
)

// Generator produces synthetic profiles that exercise every risk tier.
type Generator struct {
	cfg   Config
	rand  *rand.Rand
	nowFn func() time.Time
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.NumUsers <= 0 {
		cfg.NumUsers = def.NumUsers
	}
	if cfg.NewcomerChance <= 0 {
		cfg.NewcomerChance = def.NewcomerChance
	}
	if cfg.TroubledChance <= 0 {
		cfg.TroubledChance = def.TroubledChance
	}
	if cfg.CancellerChance <= 0 {
		cfg.CancellerChance = def.CancellerChance
	}
	if cfg.MaxYearsActive <= 0 {
		cfg.MaxYearsActive = def.MaxYearsActive
	}
	if cfg.MaxCompletedTrade <= 0 {
		cfg.MaxCompletedTrade = def.MaxCompletedTrade
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Generator{
		cfg:   cfg,
		rand:  rand.New(rand.NewSource(cfg.Seed)),
		nowFn: time.Now,
	}
}

// Generate synthesises profiles. It respects context cancellation.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	profiles := make([]service.ProfileInput, g.cfg.NumUsers)
	now := g.nowFn().UTC()

	for i := 0; i < g.cfg.NumUsers; i++ {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		profiles[i] = g.profile(fmt.Sprintf("USR-%06d", i+1), g.pickArchetype(), now)
	}
	return Dataset{Profiles: profiles}, nil
}

func (g *Generator) pickArchetype() Archetype {
	roll := g.rand.Float64()
	switch {
	case roll < g.cfg.NewcomerChance:
		return ArchetypeNewcomer
	case roll < g.cfg.NewcomerChance+g.cfg.TroubledChance:
		return ArchetypeTroubled
	case roll < g.cfg.NewcomerChance+g.cfg.TroubledChance+g.cfg.CancellerChance:
		return ArchetypeCanceller
	default:
		return ArchetypeEstablished
	}
}

func (g *Generator) profile(userID string, kind Archetype, now time.Time) service.ProfileInput {
	in := service.ProfileInput{UserID: userID}

	switch kind {
	case ArchetypeNewcomer:
		in.CompletedTrades = g.rand.Intn(3)
		in.CancelledTrades = g.rand.Intn(2)
		in.CreatedAt = g.joinedDaysAgo(now, 1+g.rand.Intn(60))
	case ArchetypeTroubled:
		in.CompletedTrades = 1 + g.rand.Intn(g.cfg.MaxCompletedTrade/2+1)
		in.CancelledTrades = g.rand.Intn(in.CompletedTrades/3 + 1)
		in.CreatedAt = g.joinedDaysAgo(now, 30+g.rand.Intn(365*g.cfg.MaxYearsActive))
		in.Violations = g.violations(1 + g.rand.Intn(4))
	case ArchetypeCanceller:
		in.CompletedTrades = 1 + g.rand.Intn(10)
		in.CancelledTrades = in.CompletedTrades + g.rand.Intn(6)
		in.CreatedAt = g.joinedDaysAgo(now, 30+g.rand.Intn(365*2))
	default:
		in.CompletedTrades = 5 + g.rand.Intn(g.cfg.MaxCompletedTrade)
		in.CancelledTrades = g.rand.Intn(in.CompletedTrades/10 + 1)
		in.CreatedAt = g.joinedDaysAgo(now, 180+g.rand.Intn(365*g.cfg.MaxYearsActive))
		if g.rand.Float64() < 0.1 {
			in.Violations = g.violations(1)
		}
	}

	if in.CompletedTrades > 0 {
		in.TotalRatings = 1 + g.rand.Intn(in.CompletedTrades)
		in.AverageRating = g.averageRating(kind)
	}
	return in
}

func (g *Generator) joinedDaysAgo(now time.Time, days int) *time.Time {
	ts := now.AddDate(0, 0, -days)
	return &ts
}

func (g *Generator) violations(n int) map[domain.ViolationKind]int {
	kinds := domain.ViolationKinds
	out := make(map[domain.ViolationKind]int, n)
	for i := 0; i < n; i++ {
		out[kinds[g.rand.Intn(len(kinds))]]++
	}
	return out
}

// averageRating is rounded to one decimal, the precision clients display.
func (g *Generator) averageRating(kind Archetype) float64 {
	low, high := 3.5, 5.0
	switch kind {
	case ArchetypeTroubled:
		low, high = 1.0, 3.5
	case ArchetypeCanceller, ArchetypeNewcomer:
		low, high = 2.5, 5.0
	}
	v := low + g.rand.Float64()*(high-low)
	return float64(int(v*10+0.5)) / 10
}

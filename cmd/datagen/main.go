package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/vanshika/swapguard/internal/generator"
)

func main() {
	cfg := generator.DefaultConfig()
	flagSet := pflag.NewFlagSet("swapguard-datagen", pflag.ContinueOnError)
	var (
		users          = flagSet.IntP("users", "n", cfg.NumUsers, "number of profiles to generate")
		newcomerChance = flagSet.Float64("newcomer-chance", cfg.NewcomerChance, "share of accounts younger than two months")
		troubledChance = flagSet.Float64("troubled-chance", cfg.TroubledChance, "share of accounts with recorded violations")
		cancelChance   = flagSet.Float64("canceller-chance", cfg.CancellerChance, "share of accounts that cancel more than they complete")
		maxYears       = flagSet.Int("max-years", cfg.MaxYearsActive, "oldest account age in years")
		maxTrades      = flagSet.Int("max-trades", cfg.MaxCompletedTrade, "most completed trades for an established account")
		seed           = flagSet.Int64("seed", cfg.Seed, "random seed for deterministic generation")
		outputDir      = flagSet.StringP("output-dir", "o", "data", "directory to write "+generator.ProfilesFile)
		writeStdout    = flagSet.Bool("stdout", false, "write the dataset to stdout instead of files")
	)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	genCfg := generator.Config{
		NumUsers:          *users,
		NewcomerChance:    clampProbability(*newcomerChance),
		TroubledChance:    clampProbability(*troubledChance),
		CancellerChance:   clampProbability(*cancelChance),
		MaxYearsActive:    *maxYears,
		MaxCompletedTrade: *maxTrades,
		Seed:              *seed,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dataset, err := generator.New(genCfg).Generate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generation failed: %v\n", err)
		os.Exit(1)
	}

	if *writeStdout {
		if err := json.NewEncoder(os.Stdout).Encode(dataset.Profiles); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write dataset to stdout: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := generator.WriteDataset(dataset, *outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write dataset: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stdout, "Generated %d profiles into %s\n", len(dataset.Profiles), *outputDir)
}

func clampProbability(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/ksuid"
	"github.com/urfave/cli/v2"
)

// Vehicle is one document of the generated corpus.
type Vehicle struct {
	ID    string  `json:"id"`
	Make  string  `json:"make"`
	Model string  `json:"model"`
	Year  int     `json:"year"`
	Color string  `json:"color"`
	Price float64 `json:"price"`
}

var (
	makes = map[string][]string{
		"Toyota":    {"Camry", "Corolla", "Prius", "RAV4", "Highlander", "Tacoma", "4Runner"},
		"Honda":     {"Civic", "Accord", "CR-V", "Pilot", "Fit", "HR-V", "Ridgeline"},
		"Ford":      {"F-150", "Mustang", "Explorer", "Escape", "Focus", "Fusion", "Bronco"},
		"BMW":       {"3 Series", "5 Series", "X3", "X5", "i3", "i8", "Z4"},
		"Mercedes":  {"C-Class", "E-Class", "S-Class", "GLC", "GLE", "A-Class", "CLA"},
		"Audi":      {"A3", "A4", "A6", "Q3", "Q5", "Q7", "TT"},
		"Chevrolet": {"Silverado", "Equinox", "Malibu", "Tahoe", "Suburban", "Camaro", "Corvette"},
		"Nissan":    {"Altima", "Sentra", "Rogue", "Pathfinder", "Frontier", "Titan", "370Z"},
	}

	colors = []string{
		"Red", "Blue", "Black", "White", "Silver", "Gray", "Green", "Yellow", "Orange", "Purple",
	}

	makeKeys = sortedMakes()
)

func sortedMakes() []string {
	keys := make([]string, 0, len(makes))
	for v := range makes {
		keys = append(keys, v)
	}
	sort.Strings(keys)
	return keys
}

func generateRandomVehicle(rng *rand.Rand) Vehicle {
	selectedMake := makeKeys[rng.IntN(len(makeKeys))]
	models := makes[selectedMake]

	return Vehicle{
		ID:    ksuid.New().String(),
		Make:  selectedMake,
		Model: models[rng.IntN(len(models))],
		Year:  rng.IntN(10) + 2015, // 2015-2024
		Color: colors[rng.IntN(len(colors))],
		Price: float64(rng.IntN(6000000)+500000) / 100, // 5000.00-64999.99
	}
}

func generateCorpus(rng *rand.Rand, count int) []Vehicle {
	vehicles := make([]Vehicle, 0, count)
	for i := 0; i < count; i++ {
		vehicles = append(vehicles, generateRandomVehicle(rng))
	}
	return vehicles
}

func writeCorpus(w io.Writer, vehicles []Vehicle) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(vehicles); err != nil {
		return errors.Wrap(err, "failed to encode corpus")
	}
	return nil
}

func runAction(c *cli.Context) error {
	ctx := c.Context
	out := c.String("out")
	count := c.Int("count")
	if count <= 0 {
		return errors.Newf("count must be positive, got %d", count)
	}

	seed := c.Uint64("seed")
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed))

	slog.InfoContext(ctx, "Starting vehicle generator",
		"out", out,
		"count", count,
		"seed", seed,
	)

	vehicles := generateCorpus(rng, count)

	if out == "" || out == "-" {
		return writeCorpus(os.Stdout, vehicles)
	}

	f, err := os.Create(filepath.Clean(out))
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", out)
	}
	if err := writeCorpus(f, vehicles); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", out)
	}

	slog.InfoContext(ctx, "Successfully generated vehicle corpus", "count", count, "out", out)
	return nil
}

func main() {
	// Configure JSON logging for AWS environments
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" || os.Getenv("AWS_REGION") != "" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}

	app := &cli.App{
		Name:  "generator",
		Usage: "Generate a random vehicle corpus for the in-memory search backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output file; - writes to stdout",
				Value:   "-",
			},
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"c"},
				Usage:   "Number of vehicles to generate",
				Value:   100,
			},
			&cli.Uint64Flag{
				Name:  "seed",
				Usage: "Random seed; 0 picks one",
			},
		},
		Action: runAction,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

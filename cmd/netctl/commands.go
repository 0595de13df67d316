package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/ksred/klear-compensation/internal/database"
	"github.com/ksred/klear-compensation/internal/netting"
	"github.com/ksred/klear-compensation/internal/registry"
	"github.com/ksred/klear-compensation/internal/types"
)

// fixture is the input file format shared by optimize and seed. Its shape
// matches the body of POST /api/v1/optimizations/evaluate.
type fixture struct {
	Participants  []types.Participant   `json:"participants"`
	Configuration netting.Configuration `json:"configuration"`
}

func loadFixture(path string) (*fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fx := &fixture{Configuration: netting.DefaultConfiguration()}
	if err := json.NewDecoder(f).Decode(fx); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if len(fx.Participants) == 0 {
		return nil, fmt.Errorf("%s has no participants", path)
	}
	return fx, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var optimizeCmd = &cli.Command{
	Name:    "optimize",
	Usage:   "Run the engine over a participants file and print the result",
	Aliases: []string{"o"},
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "input",
			Required: true,
			Usage:    "specify the input participants.json",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "specify the output result.json (default stdout)",
		},
		&cli.IntFlag{
			Name:  "workers",
			Value: runtime.NumCPU(),
			Usage: "specify the number of concurrent evaluation workers",
		},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.Int("workers") < 1 {
			return errors.New("invalid workers")
		}
		return doOptimize(ctx.Context, ctx.String("input"), ctx.String("output"), ctx.Int("workers"))
	},
}

func doOptimize(ctx context.Context, input, output string, workers int) error {
	fx, err := loadFixture(input)
	if err != nil {
		return err
	}

	result, err := netting.NewEngine(workers).Optimize(ctx, fx.Participants, fx.Configuration)
	if err != nil {
		return err
	}

	log.Info().
		Int("participants", len(fx.Participants)).
		Int("matches", len(result.Matches)).
		Float64("total_value", result.Statistics.TotalValue).
		Float64("total_economy", result.Statistics.TotalEconomy).
		Msg("optimization completed")

	if output == "" {
		return writeJSON(os.Stdout, result)
	}
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := writeJSON(f, result); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

var seedCmd = &cli.Command{
	Name:  "seed",
	Usage: "Load the participants of a file into the registry database",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "input",
			Required: true,
			Usage:    "specify the input participants.json",
		},
		&cli.StringFlag{
			Name:    "db",
			Value:   "klear.db",
			EnvVars: []string{"DATABASE_PATH"},
			Usage:   "specify the sqlite database path",
		},
	},
	Action: func(ctx *cli.Context) error {
		return doSeed(ctx.String("input"), ctx.String("db"))
	},
}

func doSeed(input, dbPath string) error {
	fx, err := loadFixture(input)
	if err != nil {
		return err
	}

	db, err := database.NewDatabase(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	svc := registry.NewService(db)
	for i := range fx.Participants {
		if _, err := svc.RegisterParticipant(&fx.Participants[i]); err != nil {
			return fmt.Errorf("participant %d: %w", i, err)
		}
	}

	log.Info().
		Int("participants", len(fx.Participants)).
		Str("db", dbPath).
		Msg("registry seeded")
	return nil
}

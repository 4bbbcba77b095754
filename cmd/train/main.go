// Command train fits the planner on the simulated environment, saves a
// checkpoint and records the run in the SQLite run store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/banshee-data/onboard/internal/checkpoint"
	"github.com/banshee-data/onboard/internal/config"
	"github.com/banshee-data/onboard/internal/db"
	"github.com/banshee-data/onboard/internal/fsutil"
	"github.com/banshee-data/onboard/internal/monitoring"
	"github.com/banshee-data/onboard/internal/planner"
	"github.com/banshee-data/onboard/internal/report"
	"github.com/banshee-data/onboard/internal/sim"
	"github.com/banshee-data/onboard/internal/training"
	"github.com/banshee-data/onboard/internal/version"
	"github.com/google/uuid"
)

var (
	configFile     = flag.String("config", "", "Path to tuning config JSON (defaults built in when empty)")
	episodes       = flag.Int("episodes", 0, "Override the configured episode count")
	seed           = flag.Int64("seed", 0, "Override the configured seed")
	checkpointPath = flag.String("checkpoint", "model_checkpoints/planner.json", "Checkpoint output (.json or .pb)")
	dbFile         = flag.String("db", "runs.db", "Run store path; empty disables recording")
	reportDir      = flag.String("report-dir", "", "Write reward.html and reward.png here when set")
	notes          = flag.String("notes", "", "Free-form notes stored with the run")
	logEvery       = flag.Int("log-every", 50, "Log progress every N episodes")
	quiet          = flag.Bool("quiet", false, "Silence store and checkpoint diagnostics")
	versionFlag    = flag.Bool("version", false, "Print version and exit")
)

// trainArgs is everything a training run needs besides the tuning config.
type trainArgs struct {
	Checkpoint string
	DBPath     string
	ReportDir  string
	Notes      string
	LogEvery   int
}

// trainResult is returned for logging and tests.
type trainResult struct {
	RunID      uuid.UUID
	Eval       training.Evaluation
	Summary    report.Summary
	Checkpoint string
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println("train", version.String())
		return
	}

	if *quiet {
		monitoring.SetLogger(nil)
	}

	cfg := config.DefaultTuningConfig()
	if *configFile != "" {
		loaded, err := config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *episodes > 0 {
		cfg.Episodes = episodes
	}
	if *seed != 0 {
		cfg.Seed = seed
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := train(ctx, cfg, trainArgs{
		Checkpoint: *checkpointPath,
		DBPath:     *dbFile,
		ReportDir:  *reportDir,
		Notes:      *notes,
		LogEvery:   *logEvery,
	})
	if err != nil {
		log.Fatalf("Training failed: %v", err)
	}

	log.Printf("run %s: %s", res.RunID, res.Summary)
	log.Printf("eval over %d steps: greedy %.4f, random %.4f", res.Eval.Steps, res.Eval.Greedy, res.Eval.Random)
	log.Printf("Checkpoint written to %s", res.Checkpoint)
}

func train(ctx context.Context, cfg *config.TuningConfig, args trainArgs) (*trainResult, error) {
	format, err := checkpoint.FormatFromPath(args.Checkpoint)
	if err != nil {
		return nil, err
	}

	runSeed := cfg.GetSeed()
	pl, err := planner.New(planner.ConfigFromTuning(cfg), rand.New(rand.NewSource(runSeed)))
	if err != nil {
		return nil, err
	}
	envCfg := sim.DefaultEnvConfig()
	envCfg.Dt = cfg.GetTimeStep().Seconds()
	env, err := sim.NewEnv(envCfg, runSeed+1)
	if err != nil {
		return nil, err
	}
	opts := training.OptionsFromTuning(cfg)

	runID := uuid.New()
	var store *db.DB
	if args.DBPath != "" {
		store, err = db.Open(args.DBPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()

		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		err = store.StartRun(ctx, db.Run{
			ID:         runID,
			StartedAt:  time.Now(),
			Seed:       runSeed,
			Episodes:   opts.Episodes,
			Steps:      opts.StepsPerEpisode,
			ConfigJSON: string(cfgJSON),
			Notes:      args.Notes,
		})
		if err != nil {
			return nil, err
		}
	}

	var points []report.Point
	err = training.Run(ctx, pl, env, opts, func(r training.EpisodeResult) error {
		points = append(points, report.Point{Episode: r.Episode, Reward: r.TotalReward, MeanAbsTD: r.MeanAbsTD})
		if args.LogEvery > 0 && (r.Episode+1)%args.LogEvery == 0 {
			log.Printf("episode %d/%d reward %.3f |td| %.4f eps %.3f buffer %d",
				r.Episode+1, opts.Episodes, r.TotalReward, r.MeanAbsTD, r.Epsilon, r.BufferLen)
		}
		if store == nil {
			return nil
		}
		return store.RecordEpisode(ctx, db.Episode{
			RunID:       runID,
			Episode:     r.Episode,
			TotalReward: r.TotalReward,
			MeanAbsTD:   r.MeanAbsTD,
			Epsilon:     r.Epsilon,
			BufferLen:   r.BufferLen,
		})
	})
	if err != nil {
		return nil, err
	}

	ev, err := training.Evaluate(pl, envCfg, runSeed+2, cfg.GetEvalSteps())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := checkpoint.Save(fsutil.OSFileSystem{}, args.Checkpoint, checkpoint.FromPlanner(pl, runID, now)); err != nil {
		return nil, err
	}

	if store != nil {
		err = store.RecordCheckpoint(ctx, &db.CheckpointRecord{
			RunID:      runID,
			Path:       args.Checkpoint,
			Format:     format.String(),
			Episode:    opts.Episodes - 1,
			EvalReward: &ev.Greedy,
			CreatedAt:  now,
		})
		if err != nil {
			return nil, err
		}
		if err := store.FinishRun(ctx, runID, time.Now()); err != nil {
			return nil, err
		}
	}

	window := min(20, len(points))
	summary, err := report.Summarize(points, window)
	if err != nil {
		return nil, err
	}
	if args.ReportDir != "" {
		if err := writeReports(args.ReportDir, runID, points, window); err != nil {
			return nil, err
		}
	}

	return &trainResult{RunID: runID, Eval: ev, Summary: summary, Checkpoint: args.Checkpoint}, nil
}

func writeReports(dir string, runID uuid.UUID, points []report.Point, window int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	title := "Training run " + runID.String()

	html, err := os.Create(filepath.Join(dir, "reward.html"))
	if err != nil {
		return err
	}
	if err := report.WriteHTML(html, title, points, window); err != nil {
		html.Close()
		return err
	}
	if err := html.Close(); err != nil {
		return err
	}

	png, err := os.Create(filepath.Join(dir, "reward.png"))
	if err != nil {
		return err
	}
	if err := report.WritePNG(png, title, points, window); err != nil {
		png.Close()
		return err
	}
	return png.Close()
}

// Command eval loads a planner checkpoint and compares its greedy policy
// with a uniform random policy on the simulated environment.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/banshee-data/onboard/internal/checkpoint"
	"github.com/banshee-data/onboard/internal/config"
	"github.com/banshee-data/onboard/internal/db"
	"github.com/banshee-data/onboard/internal/fsutil"
	"github.com/banshee-data/onboard/internal/planner"
	"github.com/banshee-data/onboard/internal/sim"
	"github.com/banshee-data/onboard/internal/training"
	"github.com/banshee-data/onboard/internal/version"
	"github.com/logrusorgru/aurora"
)

var (
	checkpointPath = flag.String("checkpoint", "model_checkpoints/planner.json", "Checkpoint to evaluate (.json or .pb)")
	configFile     = flag.String("config", "", "Path to tuning config JSON (defaults built in when empty)")
	steps          = flag.Int("steps", 0, "Evaluation steps; 0 uses the configured eval_steps")
	seed           = flag.Int64("seed", 2, "Environment seed shared by both policies")
	dbFile         = flag.String("db", "", "Record the result against the checkpoint's run in this store")
	noColor        = flag.Bool("no-color", false, "Disable coloured output")
	strict         = flag.Bool("strict", false, "Exit non-zero when the planner does not beat random")
	versionFlag    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println("eval", version.String())
		return
	}

	cfg := config.DefaultTuningConfig()
	if *configFile != "" {
		loaded, err := config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	n := *steps
	if n <= 0 {
		n = cfg.GetEvalSteps()
	}

	ck, ev, err := evaluate(*checkpointPath, cfg, *seed, n)
	if err != nil {
		log.Fatalf("Evaluation failed: %v", err)
	}
	printEvaluation(os.Stdout, aurora.NewAurora(!*noColor), ck, ev)

	if *dbFile != "" {
		if err := record(context.Background(), *dbFile, *checkpointPath, ck, ev); err != nil {
			log.Fatalf("Failed to record evaluation: %v", err)
		}
	}
	if *strict && !ev.Beats() {
		os.Exit(1)
	}
}

// evaluate restores the checkpoint into a planner shaped by its own
// metadata and rolls it out. Learning parameters do not matter here.
func evaluate(path string, cfg *config.TuningConfig, seed int64, steps int) (*checkpoint.Checkpoint, training.Evaluation, error) {
	ck, err := checkpoint.Load(fsutil.OSFileSystem{}, path)
	if err != nil {
		return nil, training.Evaluation{}, err
	}

	pcfg := planner.ConfigFromTuning(cfg)
	pcfg.StateDim = ck.Metadata.StateDim
	pcfg.ActionDim = ck.Metadata.ActionDim
	pcfg.HiddenDim = ck.Metadata.HiddenDim
	pl, err := planner.New(pcfg, rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, training.Evaluation{}, err
	}
	if err := ck.Apply(pl); err != nil {
		return nil, training.Evaluation{}, err
	}

	envCfg := sim.DefaultEnvConfig()
	envCfg.Dt = cfg.GetTimeStep().Seconds()
	ev, err := training.Evaluate(pl, envCfg, seed, steps)
	if err != nil {
		return nil, training.Evaluation{}, err
	}
	return ck, ev, nil
}

func printEvaluation(w io.Writer, au aurora.Aurora, ck *checkpoint.Checkpoint, ev training.Evaluation) {
	fmt.Fprintf(w, "run %s (saved %s)\n", ck.Metadata.RunID, ck.Metadata.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "greedy planner: %s per step over %d steps\n", au.Bold(fmt.Sprintf("%.4f", ev.Greedy)), ev.Steps)
	fmt.Fprintf(w, "random policy:  %.4f per step\n", ev.Random)
	if ev.Beats() {
		fmt.Fprintln(w, au.Green("planner beats random"))
	} else {
		fmt.Fprintln(w, au.Red("planner does not beat random"))
	}
}

func record(ctx context.Context, dbPath, ckPath string, ck *checkpoint.Checkpoint, ev training.Evaluation) error {
	store, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.GetRun(ctx, ck.Metadata.RunID); err != nil {
		return err
	}
	format, err := checkpoint.FormatFromPath(ckPath)
	if err != nil {
		return err
	}
	prev, err := store.LatestCheckpoint(ctx, ck.Metadata.RunID)
	if err != nil {
		return err
	}
	return store.RecordCheckpoint(ctx, &db.CheckpointRecord{
		RunID:      ck.Metadata.RunID,
		Path:       ckPath,
		Format:     format.String(),
		Episode:    prev.Episode,
		EvalReward: &ev.Greedy,
		CreatedAt:  time.Now(),
	})
}

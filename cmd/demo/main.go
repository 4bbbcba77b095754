// Command demo runs the estimator and planner loop live, over either the
// simulated environment or measurements read from a serial port, printing
// the filtered position and chosen action each tick.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/onboard/internal/checkpoint"
	"github.com/banshee-data/onboard/internal/config"
	"github.com/banshee-data/onboard/internal/db"
	"github.com/banshee-data/onboard/internal/estimator"
	"github.com/banshee-data/onboard/internal/fsutil"
	"github.com/banshee-data/onboard/internal/httputil"
	"github.com/banshee-data/onboard/internal/monitoring"
	"github.com/banshee-data/onboard/internal/pipeline"
	"github.com/banshee-data/onboard/internal/planner"
	"github.com/banshee-data/onboard/internal/serialmux"
	"github.com/banshee-data/onboard/internal/sim"
	"github.com/banshee-data/onboard/internal/timeutil"
	"github.com/banshee-data/onboard/internal/version"
	"tailscale.com/tsweb"
)

var (
	configFile     = flag.String("config", "", "Path to tuning config JSON (defaults built in when empty)")
	checkpointPath = flag.String("checkpoint", "", "Load planner weights from this checkpoint")
	serialPath     = flag.String("serial", "", "Read measurements from this serial port instead of the simulator")
	baudRate       = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	steps          = flag.Int("steps", 50, "Ticks to run; 0 runs until interrupted")
	epsilon        = flag.Float64("epsilon", 0.2, "Exploration probability")
	learn          = flag.Bool("learn", false, "Remember transitions and train while running")
	seed           = flag.Int64("seed", 0, "Override the configured seed")
	listen         = flag.String("debug-listen", "", "Serve /debug endpoints on this address, e.g. localhost:8090")
	dbFile         = flag.String("db", "", "Expose this run store under /debug when serving")
	logJSON        = flag.Bool("log-json", false, "Emit library diagnostics as JSON records on stderr")
	versionFlag    = flag.Bool("version", false, "Print version and exit")
)

// agentStatus is the latest tick, shared with the debug handler.
type agentStatus struct {
	mu      sync.Mutex
	elapsed float64
	tick    pipeline.Tick
	seen    bool
}

func (s *agentStatus) observe(t pipeline.Tick) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed += t.Dt
	s.tick = t
	s.seen = true
	return s.elapsed
}

func (s *agentStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	body := map[string]any{"ticks": 0}
	if s.seen {
		body = map[string]any{
			"ticks":      s.tick.Index + 1,
			"elapsed":    s.elapsed,
			"state":      s.tick.State,
			"innovation": s.tick.Innovation,
			"action":     s.tick.Action,
		}
	}
	s.mu.Unlock()
	httputil.WriteJSONOK(w, body)
}

func printTick(w io.Writer, elapsed float64, t pipeline.Tick) {
	fmt.Fprintf(w, "t=%.2fs pos=(%.2f, %.2f) action=%d\n",
		elapsed, t.State[estimator.IdxX], t.State[estimator.IdxY], t.Action)
}

// newAgent builds the filter and planner from cfg, restoring weights from
// ckPath when it is set.
func newAgent(cfg *config.TuningConfig, ckPath string, eps float64, learning bool) (*pipeline.Agent, error) {
	est, err := estimator.New(estimator.ConfigFromTuning(cfg))
	if err != nil {
		return nil, err
	}
	pl, err := planner.New(planner.ConfigFromTuning(cfg), rand.New(rand.NewSource(cfg.GetSeed())))
	if err != nil {
		return nil, err
	}
	if ckPath != "" {
		ck, err := checkpoint.Load(fsutil.OSFileSystem{}, ckPath)
		if err != nil {
			return nil, err
		}
		if err := ck.Apply(pl); err != nil {
			return nil, err
		}
		log.Printf("Loaded planner weights from run %s", ck.Metadata.RunID)
	}
	acfg := pipeline.ConfigFromTuning(cfg)
	acfg.Epsilon = eps
	acfg.Learn = learning
	return pipeline.NewAgent(est, pl, acfg)
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println("demo", version.String())
		return
	}

	if *logJSON {
		monitoring.SetSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)), slog.LevelInfo)
	}

	cfg := config.DefaultTuningConfig()
	if *configFile != "" {
		loaded, err := config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *seed != 0 {
		cfg.Seed = seed
	}

	agent, err := newAgent(cfg, *checkpointPath, *epsilon, *learn)
	if err != nil {
		log.Fatalf("Failed to build agent: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	mux := http.NewServeMux()
	status := &agentStatus{}
	debug := tsweb.Debugger(mux)
	debug.Handle("agent", "Latest filtered state and action", status)

	runner := &pipeline.Runner{
		Agent:    agent,
		Clock:    timeutil.RealClock{},
		Interval: cfg.GetTickInterval(),
		MaxTicks: *steps,
		OnTick: func(t pipeline.Tick) {
			printTick(os.Stdout, status.observe(t), t)
		},
	}

	if *serialPath != "" {
		port, err := serialmux.NewRealSerialMux(*serialPath, serialmux.PortOptions{BaudRate: *baudRate})
		if err != nil {
			log.Fatalf("Failed to open serial port %s: %v", *serialPath, err)
		}
		defer port.Close()
		port.AttachAdminRoutes(mux)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := port.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("failed to monitor serial port: %v", err)
			}
			// No more measurements will arrive.
			stop()
		}()

		feed := port.Measurements(ctx, func(line string, err error) {
			log.Printf("skipping line %q: %v", line, err)
		})
		runner.Source = pipeline.FeedSource{C: feed}
		// Hardware ticks are timed by arrival, so the filter uses elapsed time.
		runner.Dt = 0
	} else {
		envCfg := sim.DefaultEnvConfig()
		envCfg.Dt = cfg.GetTimeStep().Seconds()
		env, err := sim.NewEnv(envCfg, cfg.GetSeed()+1)
		if err != nil {
			log.Fatalf("Failed to create environment: %v", err)
		}
		runner.Source = &pipeline.SimSource{Env: env}
		runner.Dt = envCfg.Dt
	}

	if *dbFile != "" {
		store, err := db.Open(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open run store: %v", err)
		}
		defer store.Close()
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Fatalf("Failed to attach run store routes: %v", err)
		}
	}

	if *listen != "" {
		server := &http.Server{Addr: *listen, Handler: mux}
		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				log.Printf("Debug endpoints on http://%s/debug/", *listen)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Printf("debug server error: %v", err)
				}
			}()

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("debug server shutdown error: %v", err)
			}
		}()
	}

	runErr := runner.Run(ctx)
	stop()
	wg.Wait()
	if runErr != nil {
		log.Fatalf("Demo loop failed: %v", runErr)
	}
	log.Printf("Demo finished after %d ticks, %d transitions remembered", agent.Ticks(), agent.Planner().BufferLen())
}

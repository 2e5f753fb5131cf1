package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/solverlab/rtcfr/engine"
	"github.com/solverlab/rtcfr/internal/server"
	"github.com/solverlab/rtcfr/solver"
)

var cli struct {
	Debug  bool   `help:"enable debug logging"`
	Config string `help:"path to HCL config file" default:"rtcfr.hcl"`

	Run    RunCmd    `cmd:"" help:"run the engine and websocket server until interrupted"`
	Train  TrainCmd  `cmd:"" help:"run a bounded training session in the foreground"`
	Export ExportCmd `cmd:"" help:"export the learned state to a snapshot"`
	Import ImportCmd `cmd:"" help:"import a snapshot and exit"`
	Status StatusCmd `cmd:"" help:"query a running server for status"`
}

type RunCmd struct{}

type TrainCmd struct {
	Iterations int           `help:"target iterations (0 uses config)" default:"0"`
	Timeout    time.Duration `help:"abort after this duration" default:"0"`
}

type ExportCmd struct {
	Out      string `help:"path to write the snapshot" required:""`
	Snapshot string `help:"existing snapshot to load before exporting"`
}

type ImportCmd struct {
	Snapshot string `help:"path to the snapshot to import" required:""`
	Out      string `help:"re-export path to verify the round trip"`
}

type StatusCmd struct {
	Addr string `help:"server address to query" default:""`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("rtcfr"),
		kong.Description("real-time CFR training engine"),
		kong.UsageOnError(),
	)

	setupLogger(cli.Debug)

	var err error
	switch ctx.Command() {
	case "run":
		err = cli.Run.Run(context.Background())
	case "train":
		err = cli.Train.Run(context.Background())
	case "export":
		err = cli.Export.Run()
	case "import":
		err = cli.Import.Run()
	case "status":
		err = cli.Status.Run()
	default:
		log.Fatal().Msgf("unknown command: %s", ctx.Command())
	}
	if err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func setupLogger(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
}

func loadEngine() (*engine.Engine, *engine.Config, error) {
	cfg, err := engine.LoadConfig(cli.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	eng, err := engine.New(cfg, nil, log.Logger)
	if err != nil {
		return nil, nil, err
	}
	return eng, cfg, nil
}

func (cmd *RunCmd) Run(ctx context.Context) error {
	eng, cfg, err := loadEngine()
	if err != nil {
		return err
	}

	if err := eng.Start(); err != nil {
		return err
	}
	defer eng.Stop()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg.ListenAddress(), eng, log.Logger)
	return srv.Run(ctx)
}

func (cmd *TrainCmd) Run(ctx context.Context) error {
	eng, _, err := loadEngine()
	if err != nil {
		return err
	}

	if cmd.Iterations > 0 {
		if err := eng.Configure(engine.ConfigPatch{TargetIterations: &cmd.Iterations}); err != nil {
			return err
		}
	}

	if err := eng.Start(); err != nil {
		return err
	}
	defer eng.Stop()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("training interrupted")
			return nil
		case <-ticker.C:
			st := eng.TrainingStatus()
			log.Info().
				Str("state", st.State.String()).
				Int("iteration", st.Iteration).
				Float64("progress", st.ProgressPercent).
				Float64("quality", st.Quality).
				Float64("convergence", st.ConvergenceMetric).
				Int("info_sets", st.InfoSets).
				Msg("training progress")

			if st.State != solver.StateRunning {
				out := fmt.Sprintf("%s.snap.gz", time.Now().UTC().Format("20060102-150405"))
				if err := eng.ExportSnapshot(out); err != nil {
					return fmt.Errorf("final export: %w", err)
				}
				log.Info().Str("path", out).Msg("final snapshot written")
				return nil
			}
		}
	}
}

func (cmd *ExportCmd) Run() error {
	eng, _, err := loadEngine()
	if err != nil {
		return err
	}
	if cmd.Snapshot != "" {
		if err := eng.ImportSnapshot(cmd.Snapshot); err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
	}
	return eng.ExportSnapshot(cmd.Out)
}

func (cmd *ImportCmd) Run() error {
	eng, _, err := loadEngine()
	if err != nil {
		return err
	}
	if err := eng.ImportSnapshot(cmd.Snapshot); err != nil {
		return err
	}
	st := eng.TrainingStatus()
	log.Info().Int("info_sets", st.InfoSets).Msg("snapshot imported")

	if cmd.Out != "" {
		return eng.ExportSnapshot(cmd.Out)
	}
	return nil
}

func (cmd *StatusCmd) Run() error {
	addr := cmd.Addr
	if addr == "" {
		cfg, err := engine.LoadConfig(cli.Config)
		if err != nil {
			return err
		}
		addr = cfg.ListenAddress()
	}

	url := fmt.Sprintf("ws://%s/ws", addr)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	msg, err := server.NewMessage(server.MessageTypeStatus, nil)
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}

	var reply server.Message
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	if err := conn.ReadJSON(&reply); err != nil {
		return err
	}
	if reply.Type == server.MessageTypeError {
		var errData server.ErrorData
		_ = json.Unmarshal(reply.Data, &errData)
		return fmt.Errorf("server error: %s", errData.Error)
	}

	var status server.StatusData
	if err := json.Unmarshal(reply.Data, &status); err != nil {
		return err
	}

	fmt.Printf("training:   %s, iteration %d/%d (%.1f%%), quality %.2f, convergence %.4f, %d info sets\n",
		status.Training.State, status.Training.Iteration, status.Training.TargetIterations,
		status.Training.ProgressPercent, status.Training.Quality, status.Training.ConvergenceMetric,
		status.Training.InfoSets)
	fmt.Printf("storage:    %d in memory, %d archived across %d segments (%.1f MB on disk)\n",
		status.Storage.InMemory, status.Storage.Archived, status.Storage.ArchiveCount,
		float64(status.Storage.DiskBytes)/(1<<20))
	fmt.Printf("generation: running=%v rate=%.0f/s queue=%d cpu=%.0f%%\n",
		status.Generation.Running, status.Generation.Rate, status.Generation.QueueDepth,
		status.Generation.CPUUsage*100)
	return nil
}

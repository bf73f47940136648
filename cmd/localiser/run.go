package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/banshee-data/auv.localiser/internal/config"
	"github.com/banshee-data/auv.localiser/internal/frames"
	"github.com/banshee-data/auv.localiser/internal/monitor"
	"github.com/banshee-data/auv.localiser/internal/monitoring"
	"github.com/banshee-data/auv.localiser/internal/node"
	"github.com/banshee-data/auv.localiser/internal/version"
)

type runFlags struct {
	configPath      string
	dataRoot        string
	serialPort      string
	baudRate        int
	replayPath      string
	replayInterval  time.Duration
	dbPath          string
	monitorAddr     string
	visualiserAddr  string
	streamParticles bool
	quiet           bool
}

var runOpts runFlags

func addRunFlags(fs *pflag.FlagSet, f *runFlags) {
	fs.StringVar(&f.configPath, "config", config.DefaultConfigPath, "filter configuration JSON")
	fs.StringVar(&f.dataRoot, "data-root", "", "if set, config and replay files must live under this directory")
	fs.StringVar(&f.serialPort, "port", "", "serial device carrying odometry and ping lines")
	fs.IntVar(&f.baudRate, "baud", 115200, "serial baud rate")
	fs.StringVar(&f.replayPath, "replay", "", "replay a recorded JSON-lines file instead of reading a serial port")
	fs.DurationVar(&f.replayInterval, "replay-interval", 0, "delay between replayed lines (0 replays as fast as possible)")
	fs.StringVar(&f.dbPath, "db", "localiser.db", "sqlite database for runs and estimates (empty disables)")
	fs.StringVar(&f.monitorAddr, "monitor", monitor.DefaultAddress, "monitor HTTP listen address (empty disables)")
	fs.StringVar(&f.visualiserAddr, "visualiser", "", "gRPC pose stream listen address (empty disables)")
	fs.BoolVar(&f.streamParticles, "stream-particles", true, "include particle clouds on the pose stream")
	fs.BoolVar(&f.quiet, "quiet", false, "suppress per-step diagnostics")
}

func (f runFlags) options() node.Options {
	o := node.Options{
		ConfigPath:      f.configPath,
		DataRoot:        f.dataRoot,
		SerialPort:      f.serialPort,
		ReplayPath:      f.replayPath,
		ReplayInterval:  f.replayInterval,
		DBPath:          f.dbPath,
		MonitorAddr:     f.monitorAddr,
		VisualiserAddr:  f.visualiserAddr,
		StreamParticles: f.streamParticles,
	}
	o.PortOptions.BaudRate = f.baudRate
	return o
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the filter against a serial bridge or a replay file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runOpts.quiet {
			monitoring.SetLogger(nil)
		}
		log.Printf("starting %s", version.String())

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		n, err := node.New(ctx, runOpts.options())
		if err != nil {
			return err
		}
		err = n.Run(ctx)
		if errors.Is(err, frames.ErrTransformTimeout) {
			log.Fatalf("static transforms unavailable: %v", err)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	addRunFlags(runCmd.Flags(), &runOpts)
	rootCmd.AddCommand(runCmd)
}

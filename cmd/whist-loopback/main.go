// Command whist-loopback streams synthetic video and audio frames between a
// Whist server and receiver over loopback sockets with simulated packet
// loss, and reports how nacks, fec and stream resets coped.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Frame sizes stay within what one video frame can carry with the
// largest fec ratio.
const (
	minFrameSize = 8
	maxFrameSize = 200_000
)

// CLIConfig holds the command line configuration.
type CLIConfig struct {
	frames       int
	frameSize    int
	fps          int
	loss         float64
	fecRatio     float64
	bitrate      int
	burstBitrate int
	useTCP       bool
	passphrase   string
	seed         int64
	drainTimeout time.Duration
	logLevel     string
	logFile      string
}

func newRootCmd() *cobra.Command {
	config := &CLIConfig{}

	cmd := &cobra.Command{
		Use:   "whist-loopback",
		Short: "Stream synthetic frames through a lossy loopback Whist session",
		Long: `whist-loopback starts a Whist server and receiver on loopback sockets,
drops a share of the server's datagrams and streams synthetic frames. The
receiver recovers with nacks, fec and stream resets; the tool prints the
resulting statistics.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateCLIConfig(config); err != nil {
				return err
			}
			closer, err := setupLogging(config)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			result, err := runLoopback(ctx, config)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&config.frames, "frames", 300, "Number of video frames to send")
	flags.IntVar(&config.frameSize, "frame-size", 20_000, "Size of each video frame in bytes")
	flags.IntVar(&config.fps, "fps", 60, "Frames per second")
	flags.Float64Var(&config.loss, "loss", 0.02, "Share of server datagrams to drop, in [0, 1)")
	flags.Float64Var(&config.fecRatio, "fec-ratio", 0, "Video fec ratio, in [0, 0.5]")
	flags.IntVar(&config.bitrate, "bitrate", 16_000_000, "Average bitrate in bits per second")
	flags.IntVar(&config.burstBitrate, "burst-bitrate", 100_000_000, "Burst bitrate in bits per second")
	flags.BoolVar(&config.useTCP, "tcp", true, "Open the TCP control connection")
	flags.StringVar(&config.passphrase, "passphrase", "whist-loopback", "Passphrase the session key is derived from")
	flags.Int64Var(&config.seed, "seed", 1, "Seed for the simulated packet loss")
	flags.DurationVar(&config.drainTimeout, "drain-timeout", 2*time.Second, "How long to wait for late frames after sending")
	flags.StringVar(&config.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.StringVar(&config.logFile, "log-file", "", "Log file path, rotated automatically (default: stderr)")

	return cmd
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(config *CLIConfig) error {
	if config.frames <= 0 {
		return fmt.Errorf("frames must be positive")
	}
	if config.frameSize < minFrameSize || config.frameSize > maxFrameSize {
		return fmt.Errorf("invalid frame size %d: must be in [%d, %d]", config.frameSize, minFrameSize, maxFrameSize)
	}
	if config.fps <= 0 {
		return fmt.Errorf("fps must be positive")
	}
	if config.loss < 0 || config.loss >= 1 {
		return fmt.Errorf("invalid loss %v: must be in [0, 1)", config.loss)
	}
	if config.fecRatio < 0 || config.fecRatio > 0.5 {
		return fmt.Errorf("invalid fec ratio %v: must be in [0, 0.5]", config.fecRatio)
	}
	if config.bitrate <= 0 || config.burstBitrate <= 0 {
		return fmt.Errorf("bitrates must be positive")
	}
	if config.passphrase == "" {
		return fmt.Errorf("passphrase cannot be empty")
	}
	if _, err := logrus.ParseLevel(config.logLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setupLogging configures the global logrus logger. With a log file, output
// goes through a rotating lumberjack writer that the caller must close.
func setupLogging(config *CLIConfig) (io.Closer, error) {
	level, err := logrus.ParseLevel(config.logLevel)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)

	if config.logFile == "" {
		logrus.SetOutput(os.Stderr)
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return nopCloser{}, nil
	}

	writer := &lumberjack.Logger{
		Filename:   config.logFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}
	logrus.SetOutput(writer)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	return writer, nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

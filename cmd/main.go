package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/brettbedarf/memfs"
	"github.com/brettbedarf/memfs/config"
	"github.com/brettbedarf/memfs/internal/util"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

// options holds everything parsed from the command line.
type options struct {
	cfg    *config.Config
	mnt    string
	umount bool
}

// parseArgs builds the config from defaults, then the config file, then any
// flag given explicitly on the command line.
func parseArgs(args []string) (*options, error) {
	flagSet := pflag.NewFlagSet("memfs", pflag.ContinueOnError)
	var (
		configPath  string
		verbose     int
		umount      bool
		stateDir    string
		keepState   bool
		writeBack   bool
		maxFileSize string
		metricsAddr string
	)
	flagSet.StringVarP(&configPath, "config", "c", "", "Path to a YAML or JSON config file")
	flagSet.IntVarP(&verbose, "verbose", "v", config.InfoVerbose, "Log verbosity level between 1 (error) and 5 (trace)")
	flagSet.BoolVarP(&umount, "umount", "u", false,
		"Unmount the fs first if needed before mounting again. Useful for debuggers that don't exit properly.")
	flagSet.StringVar(&stateDir, "state-dir", config.DefaultStateDir, "Directory holding the persisted files_list, dirs_list and links_list")
	flagSet.BoolVar(&keepState, "keep-state", false, "Keep the persisted state on unmount instead of removing it")
	flagSet.BoolVar(&writeBack, "write-back", false, "Persist from a periodic background flush instead of on every change")
	flagSet.StringVar(&maxFileSize, "max-file-size", humanize.Bytes(config.DefaultMaxFileSize), "Largest file content allowed, e.g. 512B or 4KiB")
	flagSet.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")
	flagSet.Usage = func() {
		fmt.Fprintf(flagSet.Output(), "Usage: memfs [flags] MOUNTPOINT\n\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	override := &config.ConfigOverride{}
	if configPath != "" {
		fileOverride, err := config.LoadConfigOverrideFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
		override = fileOverride
	}
	if flagSet.Changed("verbose") || override.LogLvl == nil {
		override.LogLvl = &verbose
	}
	if flagSet.Changed("state-dir") {
		override.StateDir = &stateDir
	}
	if flagSet.Changed("keep-state") {
		override.KeepState = &keepState
	}
	if flagSet.Changed("write-back") {
		override.WriteBack = &writeBack
	}
	if flagSet.Changed("max-file-size") {
		size, err := humanize.ParseBytes(maxFileSize)
		if err != nil {
			return nil, fmt.Errorf("invalid --max-file-size %q: %w", maxFileSize, err)
		}
		override.MaxFileSize = util.Pointer(int(size))
	}
	if flagSet.Changed("metrics-addr") {
		override.MetricsAddr = &metricsAddr
	}

	cfg := config.NewConfig(override)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &options{cfg: cfg, mnt: flagSet.Arg(0), umount: umount}, nil
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg := opts.cfg

	util.InitializeLogger(cfg.LogLvl)
	logger := util.GetLogger("main")

	mnt := opts.mnt
	logger.Info().
		Str("log_level", util.ZerologLevel(cfg.LogLvl).String()).
		Str("mnt", mnt).
		Str("state", cfg.StateDir).
		Str("max_file_size", humanize.Bytes(uint64(cfg.MaxFileSize))).
		Bool("write_back", cfg.WriteBack).
		Msg("memfs initializing")
	// Check if mount point is provided
	if mnt == "" {
		logger.Fatal().Msg("Mount point not specified; it must be passed as the argument")
	}
	// Try unmount if requested
	if opts.umount { // send cli command
		cmd := exec.Command("fusermount", "-u", mnt)
		// we ignore error here if not already mounted
		cmd.Run() // nolint:errcheck
	}

	fs, err := memfs.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize filesystem")
	}

	if cfg.MetricsAddr != "" {
		metricsSrv := fs.Metrics().Serve(cfg.MetricsAddr)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsSrv.Shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
	}

	// Serve
	if err := fs.Serve(mnt); err != nil {
		_ = fs.Close() // drop state files; Fatal skips defers
		logger.Fatal().Err(err).Msg("Failed to mount filesystem")
	}

	// Setup signal handling for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	logger.Info().Str("mountpoint", mnt).Str("session", fs.SessionID()).Msg("Filesystem mounted successfully")

	// Wait for termination signal
	sig := <-signalChan
	logger.Info().Str("signal", sig.String()).Msg("Received signal, unmounting filesystem")

	// Unmount the filesystem
	if err := fs.Unmount(); err != nil {
		logger.Error().Err(err).Msg("Failed to unmount filesystem")
	} else {
		logger.Info().Msg("Filesystem unmounted successfully")
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/danshapiro/recomp/internal/automation/config"
	"github.com/danshapiro/recomp/internal/automation/controller"
	"github.com/danshapiro/recomp/internal/automation/manifest"
	"github.com/danshapiro/recomp/internal/automation/pathresolve"
)

func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	stopCh := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-sigCh:
				cancel(fmt.Errorf("stopped by signal %s", sig.String()))
			case <-stopCh:
				return
			}
		}
	}()
	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel(nil)
	}
	return ctx, cleanup
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		recompRun(os.Args[2:], true)
	case "resume":
		recompRun(os.Args[2:], false)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  recomp run --config <run.toml> [--repo-root <dir>]")
	fmt.Fprintln(os.Stderr, "  recomp resume --config <run.toml> [--repo-root <dir>]")
}

// recompRun loads configPath, derives the run's on-disk layout, and drives
// the attempt/retry loop to completion. forceFreshStart forces resume=false
// for this invocation regardless of what the config file says; the resume
// subcommand leaves the config's own resume setting (default true) in place.
func recompRun(args []string, forceFreshStart bool) {
	var configPath, repoRoot string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			configPath = args[i]
		case "--repo-root":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "--repo-root requires a value")
				os.Exit(1)
			}
			repoRoot = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if configPath == "" {
		usage()
		os.Exit(1)
	}

	absConfigPath, err := filepath.Abs(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(absConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if forceFreshStart {
		noResume := false
		cfg.Run.Resume = &noResume
	}

	if repoRoot == "" {
		repoRoot, err = os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	absRepoRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	configDir := filepath.Dir(absConfigPath)
	workRoot := pathresolve.Resolve(configDir, cfg.Outputs.WorkRoot)
	runPaths := pathresolve.DeriveRunPaths(absRepoRoot, configDir, workRoot)
	runPaths.ConfigPath = absConfigPath

	ctx, cleanupSignalCtx := signalCancelContext()
	outcome, err := controller.New(runPaths).Run(ctx, cfg)
	cleanupSignalCtx()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("run_id=%s\n", outcome.Summary.RunID)
	fmt.Printf("final_status=%s\n", outcome.Summary.Status)
	fmt.Printf("attempts=%d\n", outcome.Summary.Attempts)
	if outcome.Manifest.WinningAttempt != nil {
		fmt.Printf("winning_attempt=%d\n", *outcome.Manifest.WinningAttempt)
	}
	if outcome.Summary.HaltedReason != "" {
		fmt.Printf("halted_reason=%s\n", outcome.Summary.HaltedReason)
	}
	fmt.Printf("run_manifest=%s\n", runPaths.RunManifest)

	if outcome.Summary.Status == manifest.RunPassed {
		os.Exit(0)
	}
	os.Exit(1)
}

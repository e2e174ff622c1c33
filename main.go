// Package main provides the entry point for the lingo-sync server and CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lingo-sync/internal/app"
	"lingo-sync/internal/commands"
	"lingo-sync/internal/container"
	"lingo-sync/internal/types"
	"lingo-sync/internal/utils"

	"github.com/sirupsen/logrus"
)

func main() {
	if len(os.Args) > 1 {
		runCommand()
	} else {
		runServer()
	}
}

// runCommand dispatches to the appropriate command handler
func runCommand() {
	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "status":
		commands.RunStatus(args)
	case "run":
		commands.RunQueueCommand(args)
	case "reset":
		commands.RunReset(args)
	case "resync":
		commands.RunResync(args)
	case "estimate-cost":
		commands.RunEstimateCost(args)
	case "cleanup":
		commands.RunCleanup(args)
	case "force-unlock":
		commands.RunForceUnlock(args)
	case "help", "-h", "--help":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println("Run 'lingo-sync help' for usage.")
		os.Exit(1)
	}
}

// printHelp displays the general help information
func printHelp() {
	fmt.Println("lingo-sync - Incremental translation pipeline with reuse-first processing.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  lingo-sync                    Start the server")
	fmt.Println("  lingo-sync <command> [args]   Execute a command")
	fmt.Println()
	fmt.Println("Available Commands:")
	fmt.Println("  status          Show queue counts, lock state, and TM totals")
	fmt.Println("  run             Execute one processing cycle")
	fmt.Println("  reset           Reopen failed jobs, unstick stale ones, release the lock")
	fmt.Println("  resync          Enqueue jobs for changed source content")
	fmt.Println("  estimate-cost   Project provider spend for the backlog")
	fmt.Println("  cleanup         Archive and delete old terminal jobs")
	fmt.Println("  force-unlock    Remove the processor lock")
	fmt.Println("  help            Display this help message")
	fmt.Println()
	fmt.Println("Use 'lingo-sync <command> --help' for more information about a command.")
}

// runServer run App Server
func runServer() {
	container, err := container.BuildContainer()
	if err != nil {
		logrus.Fatalf("Failed to build container: %v", err)
	}

	if err := container.Invoke(func(configManager types.ConfigManager) {
		utils.SetupLogger(configManager)
	}); err != nil {
		logrus.Fatalf("Failed to setup logger: %v", err)
	}
	defer utils.CloseLogger()

	if err := container.Invoke(func(application *app.App, configManager types.ConfigManager) {
		if err := application.Start(); err != nil {
			logrus.Fatalf("Failed to start application: %v", err)
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		sig := <-quit
		logrus.Infof("Received signal: %v, initiating graceful shutdown...", sig)

		serverConfig := configManager.GetEffectiveServerConfig()
		shutdownTimeout := time.Duration(serverConfig.GracefulShutdownTimeout) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		done := make(chan struct{})
		go func() {
			application.Stop(shutdownCtx)
			close(done)
		}()

		select {
		case <-done:
		case <-quit:
			logrus.Warn("Received second signal, forcing exit")
		case <-shutdownCtx.Done():
			logrus.Warn("Shutdown timed out, forcing exit")
		}
	}); err != nil {
		logrus.Fatalf("Failed to run application: %v", err)
	}
}

// Package commands implements the CLI verbs that operate the pipeline
// without starting the HTTP server.
package commands

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"lingo-sync/internal/cache"
	"lingo-sync/internal/config"
	"lingo-sync/internal/container"
	"lingo-sync/internal/models"
	"lingo-sync/internal/processor"
	"lingo-sync/internal/queue"
	"lingo-sync/internal/repository"
	"lingo-sync/internal/services"
	"lingo-sync/internal/tm"
	"lingo-sync/internal/types"
	"lingo-sync/internal/utils"

	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"gorm.io/gorm"
)

// pipelineDeps bundles everything a CLI verb may need.
type pipelineDeps struct {
	dig.In
	ConfigManager   types.ConfigManager
	SettingsManager *config.SystemSettingsManager
	DB              *gorm.DB
	Queue           *queue.JobQueue
	Processor       *processor.Processor
	Memory          *tm.TranslationMemory
	Cache           *cache.TranslationCache
	Sync            *repository.SyncService
	Cleanup         *services.CleanupService
}

// withPipeline builds the container, prepares the database, and hands the
// resolved components to fn. Exits non-zero on any failure.
func withPipeline(fn func(deps pipelineDeps) error) {
	c, err := container.BuildContainer()
	if err != nil {
		logrus.Fatalf("Failed to build container: %v", err)
	}

	if err := c.Invoke(func(configManager types.ConfigManager) {
		utils.SetupLogger(configManager)
	}); err != nil {
		logrus.Fatalf("Failed to setup logger: %v", err)
	}
	defer utils.CloseLogger()

	err = c.Invoke(func(deps pipelineDeps) error {
		if err := deps.DB.AutoMigrate(
			&models.SystemSetting{},
			&models.TranslationJob{},
			&models.TMSegment{},
			&models.ContentField{},
			&models.TranslationRun{},
		); err != nil {
			return fmt.Errorf("database auto-migration failed: %w", err)
		}
		if err := deps.SettingsManager.Initialize(deps.DB); err != nil {
			return fmt.Errorf("failed to initialize system settings: %w", err)
		}
		return fn(deps)
	})
	if err != nil {
		logrus.Fatalf("Command failed: %v", err)
	}
}

// printJSON renders a command result for operators and scripts alike.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// RunStatus prints queue counts, lock state, TM totals, recent failures,
// and whether the provider is configured.
func RunStatus(args []string) {
	withPipeline(func(deps pipelineDeps) error {
		counts, err := deps.Queue.Counts()
		if err != nil {
			return err
		}
		locked, err := deps.Processor.LockHeld()
		if err != nil {
			return err
		}
		tmStats, err := deps.Memory.GetStats()
		if err != nil {
			return err
		}
		recentErrors, err := deps.Queue.RecentErrors(0)
		if err != nil {
			return err
		}

		settings := deps.SettingsManager.GetSettings()
		return printJSON(map[string]any{
			"jobs":               counts,
			"lock_held":          locked,
			"translation_memory": tmStats,
			"recent_errors":      recentErrors,
			"provider": map[string]any{
				"name":       settings.ProviderName,
				"model":      settings.ProviderModel,
				"configured": deps.ConfigManager.GetProviderAuth().APIKey != "",
			},
		})
	})
}

// RunQueueCommand executes one processing cycle.
func RunQueueCommand(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	batchSize := fs.Int("batch", 0, "jobs to claim this cycle (0 uses the configured batch size)")
	fs.Parse(args)

	withPipeline(func(deps pipelineDeps) error {
		result, err := deps.Processor.RunQueue(context.Background(), *batchSize)
		if err == processor.ErrLockHeld {
			fmt.Println("Another processing run is already active.")
			return nil
		}
		if result != nil {
			if printErr := printJSON(result); printErr != nil {
				return printErr
			}
		}
		return err
	})
}

// RunReset reopens error and skipped jobs, returns stuck translating jobs to
// pending, and releases an orphaned processor lock.
func RunReset(args []string) {
	withPipeline(func(deps pipelineDeps) error {
		reopened, err := deps.Queue.Reopen()
		if err != nil {
			return err
		}

		settings := deps.SettingsManager.GetSettings()
		unstuck, err := deps.Queue.ResetStuck(time.Duration(settings.StuckThresholdMinutes) * time.Minute)
		if err != nil {
			return err
		}

		if err := deps.Processor.ForceReleaseLock(); err != nil {
			return err
		}

		return printJSON(map[string]any{
			"reopened":      reopened,
			"unstuck":       unstuck,
			"lock_released": true,
		})
	})
}

// RunResync scans the content repository and enqueues changed fields.
func RunResync(args []string) {
	withPipeline(func(deps pipelineDeps) error {
		result, err := deps.Sync.Resync()
		if err != nil {
			return err
		}
		return printJSON(result)
	})
}

// RunEstimateCost projects provider spend for the backlog.
func RunEstimateCost(args []string) {
	fs := flag.NewFlagSet("estimate-cost", flag.ExitOnError)
	states := fs.String("states", "", "comma-separated job states to estimate (default: pending,outdated)")
	maxJobs := fs.Int("max-jobs", 0, "bound the sample size (0 means all)")
	fs.Parse(args)

	withPipeline(func(deps pipelineDeps) error {
		estimate, err := deps.Processor.EstimateCost(utils.ParseArray(*states), *maxJobs)
		if err != nil {
			return err
		}
		return printJSON(estimate)
	})
}

// RunCleanup performs one retention pass.
func RunCleanup(args []string) {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	days := fs.Int("days", 0, "retention window in days (0 uses the configured value)")
	states := fs.String("states", "", "comma-separated terminal states to clean (default: all)")
	dryRun := fs.Bool("dry-run", false, "report eligible jobs without deleting")
	archive := fs.Bool("archive", true, "write deleted jobs to the NDJSON archive")
	fs.Parse(args)

	withPipeline(func(deps pipelineDeps) error {
		result, err := deps.Cleanup.RunWithOptions(services.CleanupOptions{
			Days:      *days,
			States:    utils.ParseArray(*states),
			DryRun:    *dryRun,
			NoArchive: !*archive,
		})
		if err != nil {
			return err
		}
		return printJSON(result)
	})
}

// RunForceUnlock removes the processor lock regardless of owner.
func RunForceUnlock(args []string) {
	fs := flag.NewFlagSet("force-unlock", flag.ExitOnError)
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	fs.Parse(args)

	if !*yes {
		fmt.Print("Force-releasing the lock while a run is active can cause duplicate provider calls. Continue? [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted.")
			os.Exit(1)
		}
	}

	withPipeline(func(deps pipelineDeps) error {
		if err := deps.Processor.ForceReleaseLock(); err != nil {
			return err
		}
		fmt.Println("Processor lock released.")
		return nil
	})
}

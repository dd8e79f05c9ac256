package main

import (
	"os"
	"text/tabwriter"

	"github.com/pixeldeck/pixeldeck/internal/data"
)

func runReconcile(ctx *commandContext, _ []string) error {
	db, closeDB, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	executionRepo := data.NewExecutionRepo(db, data.ExecutionRepoConfig{Logger: ctx.Logger})
	imageRepo := data.NewImageRepo(db, data.ImageRepoConfig{Logger: ctx.Logger})

	executions, err := executionRepo.FailOrphanedRunning(ctx.Ctx,
		"process terminated before the job finished")
	if err != nil {
		return err
	}
	images, err := imageRepo.ResetStuckProcessing(ctx.Ctx)
	if err != nil {
		return err
	}

	ctx.Logger.Info("reconciliation complete",
		"executions", executions,
		"images", images)
	return nil
}

func runStats(ctx *commandContext, _ []string) error {
	db, closeDB, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	executionRepo := data.NewExecutionRepo(db, data.ExecutionRepoConfig{Logger: ctx.Logger})
	stats, err := executionRepo.Stats(ctx.Ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(tw, "STATUS\tCOUNT\n"); err != nil {
		return err
	}
	if err := writef(tw, "running\t%d\ncompleted\t%d\nfailed\t%d\nstopped\t%d\n",
		stats.Running, stats.Completed, stats.Failed, stats.Stopped); err != nil {
		return err
	}
	return tw.Flush()
}

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pricehawk/scan-service/internal/database"
	"github.com/pricehawk/scan-service/internal/scheduler"
)

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Preview what the scheduler would scan right now",
	Long: `Show every enabled category with its effective scan interval and
priority score, and whether it is currently due. The preview uses the same
interval computation as the service loop, minus live store-health state.`,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	categories, err := database.ListCategories(context.Background(), true)
	if err != nil {
		return fmt.Errorf("failed to list categories: %w", err)
	}

	sched := scheduler.New(scheduler.Config{
		BaseInterval:     cfg.Scheduler.BaseScanInterval,
		NoDealsPenalty:   cfg.Scheduler.NoDealsPenalty,
		SuccessRateBoost: cfg.Scheduler.SuccessRateBoost,
	}, nil, *logger)

	now := time.Now()
	due := sched.Due(categories, now)
	dueSet := make(map[string]bool, len(due))
	for _, cat := range due {
		dueSet[cat.ID] = true
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STORE\tNAME\tPRIORITY\tINTERVAL\tSCORE\tDUE")
	for _, cat := range categories {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%.1f\t%t\n",
			cat.Store, cat.Name, cat.Priority,
			sched.EffectiveInterval(cat), sched.PriorityScore(cat, now), dueSet[cat.ID])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d of %d categories due\n", len(due), len(categories))
	return nil
}

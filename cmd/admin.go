package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/taskcore/internal/infrastructure/postgres"
	"github.com/zjrosen/taskcore/internal/taskcore/domain"
	"github.com/zjrosen/taskcore/internal/taskcore/store"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Break-glass operator commands against the Task Store",
}

var adminEnqueueCmd = &cobra.Command{
	Use:   "enqueue <candidate_id> <job_id> <ats_score>",
	Short: "Enqueue a review task directly, bypassing the Intake API",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openAdminStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		var score float64
		if _, err := fmt.Sscanf(args[2], "%f", &score); err != nil {
			return fmt.Errorf("parsing ats_score: %w", err)
		}
		task, err := s.Enqueue(cmd.Context(), args[0], args[1], score, "", nil, nil)
		if err != nil {
			return err
		}
		fmt.Println(task.ID())
		return nil
	},
}

var adminSetPresenceCmd = &cobra.Command{
	Use:   "set-presence <reviewer_id> <presence>",
	Short: "Force a reviewer's presence, bypassing the gateway",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openAdminStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		_, err = s.SetPresence(cmd.Context(), args[0], domain.Presence(args[1]))
		return err
	},
}

var adminReviewerResetCmd = &cobra.Command{
	Use:   "reviewer-reset <reviewer_id>",
	Short: "Clear warnings/violations and reactivate a suspended reviewer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openAdminStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		reviewer, _, err := s.AdminResetReviewer(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("reviewer %s reset: active=%v warnings=%d violations=%d\n",
			reviewer.ID(), reviewer.Active(), reviewer.Warnings(), reviewer.Violations())
		return nil
	},
}

var adminTaskTimeoutCmd = &cobra.Command{
	Use:   "task-timeout <task_id>",
	Short: "Force-close a stuck task as timeout, freeing its reviewer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openAdminStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		task, err := s.Timeout(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("task %s marked timeout\n", task.ID())
		return nil
	},
}

func init() {
	adminCmd.AddCommand(adminEnqueueCmd, adminSetPresenceCmd, adminReviewerResetCmd, adminTaskTimeoutCmd)
	rootCmd.AddCommand(adminCmd)
}

func openAdminStore(ctx context.Context) (*store.PostgresStore, error) {
	pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return store.New(pool), nil
}

package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/fallback"
	"github.com/xkilldash9x/autoapply/internal/observability"
)

// newQueueCmd groups the operator commands for the human fallback queue.
func newQueueCmd(provider storeProvider) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspects and works the human fallback queue",
	}
	queueCmd.AddCommand(newQueueListCmd(provider))
	queueCmd.AddCommand(newQueueClaimCmd(provider))
	queueCmd.AddCommand(newQueueResolveCmd(provider))
	queueCmd.AddCommand(newQueueResetStaleCmd(provider))
	return queueCmd
}

// withQueue opens the store and hands fn a fallback queue over it. No bus is
// attached; completions are visible to a running engine through the store.
func withQueue(cmd *cobra.Command, provider storeProvider, fn func(q *fallback.Queue) error) error {
	ctx := cmd.Context()
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return err
	}
	logger := observability.GetLogger()
	st, cleanup, err := provider.Create(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(fallback.NewQueue(st, nil, logger))
}

func newQueueListCmd(provider storeProvider) *cobra.Command {
	var status string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lists worker sessions by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws := schemas.WorkerStatus(strings.ToUpper(status))
			switch ws {
			case schemas.WorkerQueued, schemas.WorkerClaimed, schemas.WorkerResolved:
			default:
				return fmt.Errorf("invalid status %q: want queued, claimed or resolved", status)
			}
			return withQueue(cmd, provider, func(q *fallback.Queue) error {
				sessions, err := q.List(cmd.Context(), ws)
				if err != nil {
					return err
				}
				if len(sessions) == 0 {
					cmd.Printf("No %s worker sessions.\n", strings.ToLower(string(ws)))
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tAPPLICATION\tSTATUS\tCLAIMED BY\tCREATED\tREASON")
				for _, s := range sessions {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						s.ID, s.ApplicationID, s.Status, s.ClaimedBy,
						s.CreatedAt.Format(time.RFC3339), s.Reason)
				}
				return tw.Flush()
			})
		},
	}
	listCmd.Flags().StringVar(&status, "status", string(schemas.WorkerQueued), "Session status to list (queued, claimed, resolved)")
	return listCmd
}

func newQueueClaimCmd(provider storeProvider) *cobra.Command {
	var operator string
	claimCmd := &cobra.Command{
		Use:   "claim <session-id>",
		Short: "Claims a queued worker session for an operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, provider, func(q *fallback.Queue) error {
				ws, err := q.Claim(cmd.Context(), args[0], operator)
				if err != nil {
					return err
				}
				cmd.Printf("Claimed session %s for application %s.\n", ws.ID, ws.ApplicationID)
				return nil
			})
		},
	}
	claimCmd.Flags().StringVar(&operator, "operator", "", "Operator identifier (required)")
	_ = claimCmd.MarkFlagRequired("operator")
	return claimCmd
}

func newQueueResolveCmd(provider storeProvider) *cobra.Command {
	var result, notes string
	resolveCmd := &cobra.Command{
		Use:   "resolve <session-id>",
		Short: "Records the outcome of a claimed worker session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := schemas.ApplicationStatus(strings.ToUpper(result))
			return withQueue(cmd, provider, func(q *fallback.Queue) error {
				ws, err := q.Resolve(cmd.Context(), args[0], status, notes)
				if err != nil {
					return err
				}
				cmd.Printf("Resolved session %s as %s.\n", ws.ID, ws.Result)
				return nil
			})
		},
	}
	resolveCmd.Flags().StringVar(&result, "result", "", "Outcome: SUBMITTED or FAILED (required)")
	resolveCmd.Flags().StringVar(&notes, "notes", "", "Free-form operator notes")
	_ = resolveCmd.MarkFlagRequired("result")
	return resolveCmd
}

func newQueueResetStaleCmd(provider storeProvider) *cobra.Command {
	var olderThan time.Duration
	resetCmd := &cobra.Command{
		Use:   "reset-stale",
		Short: "Returns claims older than a cutoff to the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, provider, func(q *fallback.Queue) error {
				n, err := q.ReleaseStale(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				cmd.Printf("Released %d stale claim(s).\n", n)
				return nil
			})
		},
	}
	resetCmd.Flags().DurationVar(&olderThan, "older-than", 2*time.Hour, "Claim age after which a session is released")
	return resetCmd
}

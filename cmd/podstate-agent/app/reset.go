package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autopeer-io/podstate/cmd/podstate-agent/app/options"
	"github.com/autopeer-io/podstate/internal/alerts"
	"github.com/autopeer-io/podstate/internal/notify"
	"github.com/autopeer-io/podstate/internal/podstate/manager"
	"github.com/autopeer-io/podstate/internal/store"
	"github.com/autopeer-io/podstate/pkg/log"
)

func newResetCommand(ctx context.Context, opts *options.AgentOptions) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the persisted pod state and start a fresh session",
		Long: `Reset replaces the persisted snapshot with an empty one, as done when a pod is
deactivated. Stop the agent first: a running agent keeps its in-memory state
and overwrites the store on its next mutation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return errors.New("refusing to reset without --yes")
			}

			st, err := store.New(ctx, opts.StoreOptions())
			if err != nil {
				return fmt.Errorf("failed to open snapshot store: %w", err)
			}
			defer st.Close()

			mgr := manager.New(st, notify.Multi{}, alerts.NewCenter(nil),
				manager.WithLogger(log.WithName("reset")),
				manager.WithRetryPolicy(opts.RetryPolicy()),
			)
			if err := mgr.Load(ctx); err != nil {
				log.Warn("Existing pod state could not be loaded", "error", err)
			}
			if err := mgr.Reset(ctx); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Pod state reset, new session started at %s\n",
				formatTime(mgr.Snapshot().ActivatedAt))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "Confirm the reset.")
	return cmd
}

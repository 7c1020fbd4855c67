package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newModelsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List available generation models",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, flags)
			if err != nil {
				return err
			}
			defer client.Close()

			listing, err := client.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range listing {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", m.ID, m.Kind, m.Description)
			}
			return nil
		},
	}
}

func newCacheCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Administer the response cache",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "clear",
			Short: "Drop every cached entry",
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := newClient(cmd, flags)
				if err != nil {
					return err
				}
				defer client.Close()

				client.ClearCache(cmd.Context())
				fmt.Fprintln(cmd.ErrOrStderr(), "cache cleared")
				return nil
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Sweep expired entries",
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := newClient(cmd, flags)
				if err != nil {
					return err
				}
				defer client.Close()

				removed := client.CleanupCache(cmd.Context())
				fmt.Fprintf(cmd.ErrOrStderr(), "removed %d expired entries\n", removed)
				return nil
			},
		},
		&cobra.Command{
			Use:   "invalidate <pattern>",
			Short: "Drop entries whose key matches a regular expression",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := newClient(cmd, flags)
				if err != nil {
					return err
				}
				defer client.Close()

				removed, err := client.InvalidateCachePattern(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "removed %d entries\n", removed)
				return nil
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show orchestration counters",
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := newClient(cmd, flags)
				if err != nil {
					return err
				}
				defer client.Close()

				s := client.Metrics()
				fmt.Fprintf(cmd.OutOrStdout(),
					"hits\t%d\nmisses\t%d\ndedup_joins\t%d\nremote_hits\t%d\ndispatches\t%d\nretries\t%d\nfailures\t%d\ncancels\t%d\n",
					s.Hits, s.Misses, s.DedupJoins, s.RemoteHits, s.Dispatches, s.Retries, s.Failures, s.Cancels)
				return nil
			},
		},
	)
	return cmd
}

package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	simcoord "github.com/ksparavec/simcoord"
	"github.com/ksparavec/simcoord/api"
)

func newNeighborCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "neighbor",
		Short: "Manage reference-counted neighbor (ARP/NDP) entry leases",
	}
	cmd.AddCommand(
		newNeighborAcquireCommand(a),
		newNeighborReleaseCommand(a),
		newNeighborCountCommand(a),
		newNeighborListCommand(a),
	)
	return cmd
}

func newNeighborAcquireCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acquire <host> <neighbor-addr>",
		Short: "Acquire a neighbor entry lease for the current job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			req := simcoord.NeighborLeaseRequest{
				JobID:        a.jobID(),
				Host:         args[0],
				NeighborAddr: args[1],
			}
			count, err := c.AcquireNeighborLease(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "leased %s on %s (count %d)\n", args[1], args[0], count)
			return nil
		},
	}
	return cmd
}

func newNeighborReleaseCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <host> <neighbor-addr>",
		Short: "Release the job's neighbor entry lease",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			count, last, err := c.ReleaseNeighborLease(ctx, a.jobID(), args[0], args[1])
			if err != nil {
				return err
			}
			if last {
				fmt.Fprintf(cmd.OutOrStdout(), "released %s on %s; entry removal is safe\n", args[1], args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "released %s on %s (count %d)\n", args[1], args[0], count)
			}
			return nil
		},
	}
	return cmd
}

func newNeighborCountCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count <host> <neighbor-addr>",
		Short: "Print the active lease count for a neighbor entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			count, err := c.GetNeighborLeaseCount(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), count)
			return nil
		},
	}
	return cmd
}

func newNeighborListCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every active neighbor entry lease",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			leases, err := c.ListNeighborLeases(ctx)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(leases))
			for key := range leases {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HOST\tNEIGHBOR\tJOB\tPID\tAGE")
			for _, key := range keys {
				host, addr, ok := api.SplitNeighborKey(key)
				if !ok {
					continue
				}
				for _, entry := range leases[key] {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
						host, addr, entry.JobID, entry.PID,
						humanize.Time(entry.AllocatedAt),
					)
				}
			}
			return w.Flush()
		},
	}
	return cmd
}

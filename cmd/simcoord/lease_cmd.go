package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	simcoord "github.com/ksparavec/simcoord"
)

func newLeaseCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Manage reference-counted source host leases",
	}
	cmd.AddCommand(
		newLeaseAcquireCommand(a),
		newLeaseReleaseCommand(a),
		newLeaseCountCommand(a),
		newLeaseListCommand(a),
	)
	return cmd
}

func newLeaseAcquireCommand(a *app) *cobra.Command {
	var req simcoord.LeaseRequest
	cmd := &cobra.Command{
		Use:   "acquire <host>",
		Short: "Acquire a source host lease for the current job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			req.Host = args[0]
			req.JobID = a.jobID()
			count, err := c.AcquireSourceHostLease(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "leased %s for %s (count %d)\n", req.Host, req.JobID, count)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.JobClass, "job-class", "", "job class recorded on the lease")
	cmd.Flags().StringVar(&req.Router, "router", "", "router the job holds while using the host")
	cmd.Flags().StringVar(&req.Priority, "priority", "", "scheduling priority recorded on the lease")
	return cmd
}

func newLeaseReleaseCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <host>",
		Short: "Release the job's source host lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			count, last, err := c.ReleaseSourceHostLease(ctx, a.jobID(), args[0])
			if err != nil {
				return err
			}
			if last {
				fmt.Fprintf(cmd.OutOrStdout(), "released %s; no leases remain, namespace teardown is safe\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "released %s (count %d)\n", args[0], count)
			}
			return nil
		},
	}
	return cmd
}

func newLeaseCountCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count <host>",
		Short: "Print the active lease count for a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			count, err := c.GetHostLeaseCount(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), count)
			return nil
		},
	}
	return cmd
}

func newLeaseListCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every active source host lease",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			leases, err := c.ListHostLeases(ctx)
			if err != nil {
				return err
			}
			hosts := make([]string, 0, len(leases))
			for host := range leases {
				hosts = append(hosts, host)
			}
			sort.Strings(hosts)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HOST\tJOB\tPID\tCLASS\tROUTER\tAGE")
			for _, host := range hosts {
				for _, entry := range leases[host] {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
						host, entry.JobID, entry.PID, entry.JobClass, entry.Router,
						humanize.Time(entry.AllocatedAt),
					)
				}
			}
			return w.Flush()
		},
	}
	return cmd
}

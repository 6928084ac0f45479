package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/spf13/cobra"

	"github.com/ksparavec/simcoord/api"
)

// newDoctorCommand inspects coordinator state for problems a crashed or
// killed job leaves behind: leases whose holder process is gone and router
// locks whose acquiring process is gone. It only reports; cleanup stays a
// human decision because the job may legitimately span several processes.
func newDoctorCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Inspect registry and lock state for orphaned leases and locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			out := cmd.OutOrStdout()

			hosts, err := c.ListAllHosts(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "registry: %d hosts under %s\n\n", len(hosts), c.StateDir())

			problems := 0

			leases, err := c.ListHostLeases(ctx)
			if err != nil {
				return err
			}
			hostNames := make([]string, 0, len(leases))
			for host := range leases {
				hostNames = append(hostNames, host)
			}
			sort.Strings(hostNames)
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HOST LEASE\tJOB\tPID\tALIVE\tAGE")
			for _, host := range hostNames {
				label := host
				if _, registered := hosts[host]; !registered {
					problems++
					label += " (unregistered!)"
				}
				for _, entry := range leases[host] {
					alive := pidAlive(entry.PID)
					if !alive {
						problems++
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%s\n",
						label, entry.JobID, entry.PID, alive,
						humanize.Time(entry.AllocatedAt),
					)
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}

			neighbors, err := c.ListNeighborLeases(ctx)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(neighbors))
			for key := range neighbors {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			fmt.Fprintln(out)
			w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NEIGHBOR LEASE\tJOB\tPID\tALIVE\tAGE")
			for _, key := range keys {
				host, addr, ok := api.SplitNeighborKey(key)
				if !ok {
					continue
				}
				for _, entry := range neighbors[key] {
					alive := pidAlive(entry.PID)
					if !alive {
						problems++
					}
					fmt.Fprintf(w, "%s/%s\t%s\t%d\t%v\t%s\n",
						host, addr, entry.JobID, entry.PID, alive,
						humanize.Time(entry.AllocatedAt),
					)
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}

			locks, err := c.ListRouterLocks()
			if err != nil {
				return err
			}
			routers := make([]string, 0, len(locks))
			for router := range locks {
				routers = append(routers, router)
			}
			sort.Strings(routers)
			fmt.Fprintln(out)
			w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ROUTER LOCK\tOWNER\tPID\tALIVE\tAGE")
			for _, router := range routers {
				info := locks[router]
				alive := pidAlive(info.PID)
				if !alive {
					problems++
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%s\n",
					router, info.Owner, info.PID, alive,
					humanize.Time(info.AcquiredAt),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintln(out)
			if problems == 0 {
				fmt.Fprintln(out, "no problems found")
				return nil
			}
			return fmt.Errorf("%d problem(s) found; dead-PID leases and locks likely belong to crashed jobs", problems)
		},
	}
	return cmd
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}

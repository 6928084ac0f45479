package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRouterCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "router",
		Short: "Manage exclusive router locks",
	}
	cmd.AddCommand(
		newRouterLockCommand(a),
		newRouterUnlockCommand(a),
		newRouterLockedCommand(a),
		newRouterLockAllCommand(a),
		newRouterUnlockAllCommand(a),
		newRouterWaitCommand(a),
		newRouterWaitAllCommand(a),
	)
	return cmd
}

func newRouterLockCommand(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "lock <router>",
		Short: "Acquire the exclusive lock for one router",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			job := a.jobID()
			ok, err := c.AcquireRouterLock(ctx, args[0], job, timeout)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("router %s: lock not acquired within %s", args[0], timeout)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "locked %s for %s\n", args[0], job)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "how long to wait for the lock")
	return cmd
}

func newRouterUnlockCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock <router>",
		Short: "Release the router lock held by this job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			released, err := c.ReleaseRouterLock(ctx, args[0], a.jobID())
			if err != nil {
				return err
			}
			if !released {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not locked by this job\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func newRouterLockedCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locked <router>",
		Short: "Report whether a router is locked and by whom",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			info, held, err := c.RouterLockOwner(args[0])
			if err != nil {
				return err
			}
			if !held {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is free\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is locked by %s (pid %d since %s)\n",
				args[0], info.Owner, info.PID, info.AcquiredAt.Format(time.RFC3339))
			return nil
		},
	}
	return cmd
}

func newRouterLockAllCommand(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "lock-all <router>...",
		Short: "Acquire several router locks all-or-nothing",
		Long: "Acquires the named router locks in lexicographic order so that\n" +
			"concurrent invocations cannot deadlock. Either every lock is taken\n" +
			"or none remain held.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			job := a.jobID()
			ok, err := c.AcquireAllRouterLocksAtomic(ctx, args, job, timeout)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("router set not acquired within %s; nothing is held", timeout)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "locked %d routers for %s\n", len(args), job)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 120*time.Second, "shared budget for the whole set")
	return cmd
}

func newRouterUnlockAllCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock-all <router>...",
		Short: "Release every named router lock held by this job",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			n := c.ReleaseAllRouterLocks(ctx, args, a.jobID())
			fmt.Fprintf(cmd.OutOrStdout(), "unlocked %d of %d routers\n", n, len(args))
			return nil
		},
	}
	return cmd
}

func newRouterWaitCommand(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <router>",
		Short: "Block until a router lock is free, without acquiring it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			ok, err := c.WaitForRouter(ctx, args[0], timeout)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("router %s still locked after %s", args[0], timeout)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is free\n", args[0])
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "how long to wait")
	return cmd
}

func newRouterWaitAllCommand(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait-all <router>...",
		Short: "Block until every named router lock is free",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			ok, err := c.WaitForAllRouters(ctx, args, timeout)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("router set still locked after %s", timeout)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "all %d routers are free\n", len(args))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 120*time.Second, "shared budget for the whole set")
	return cmd
}

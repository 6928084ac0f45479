package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	simcoord "github.com/ksparavec/simcoord"
	"github.com/ksparavec/simcoord/api"
)

func newHostCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Manage the physical host registry",
	}
	cmd.AddCommand(
		newHostRegisterCommand(a),
		newHostRegisterBatchCommand(a),
		newHostUnregisterCommand(a),
		newHostShowCommand(a),
		newHostListCommand(a),
	)
	return cmd
}

func newHostRegisterCommand(a *app) *cobra.Command {
	var rec api.HostRecord
	var metadata []string
	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Atomically register a host if name, address, and hardware address are free",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			rec.Name = args[0]
			rec.Metadata = parseMetadata(metadata)
			ok, err := c.CheckAndRegisterHost(ctx, rec)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("host %s not registered: collision with an existing record", rec.Name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s at %s\n", rec.Name, rec.Address)
			return nil
		},
	}
	cmd.Flags().StringVar(&rec.Address, "address", "", "primary address with prefix, e.g. 10.0.0.5/24")
	cmd.Flags().StringVar(&rec.Attachment, "attachment", "", "router or bridge the host attaches to")
	cmd.Flags().StringVar(&rec.HWAddress, "hw-address", "", "hardware address")
	cmd.Flags().StringArrayVar(&metadata, "meta", nil, "metadata entry key=value (repeatable)")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("attachment")
	_ = cmd.MarkFlagRequired("hw-address")
	return cmd
}

// newHostRegisterBatchCommand registers several hosts from a JSON file as a
// unit: when any registration collides or fails, the ones already made are
// unwound through a transaction guard so no partial batch survives.
func newHostRegisterBatchCommand(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "register-batch",
		Short: "Register a batch of hosts all-or-nothing",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read batch file: %w", err)
			}
			var records []api.HostRecord
			if err := json.Unmarshal(data, &records); err != nil {
				return fmt.Errorf("parse batch file: %w", err)
			}
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			guard := simcoord.NewGuard(a.logger)
			for _, rec := range records {
				rec := rec
				ok, err := c.CheckAndRegisterHost(ctx, rec)
				if err == nil && !ok {
					err = fmt.Errorf("host %s: collision with an existing record", rec.Name)
				}
				if err != nil {
					if failed := guard.Rollback(); failed > 0 {
						return fmt.Errorf("batch aborted (%d rollback steps failed): %w", failed, err)
					}
					return fmt.Errorf("batch aborted, earlier registrations rolled back: %w", err)
				}
				guard.Record("unregister "+rec.Name, func() error {
					_, err := c.UnregisterHost(ctx, rec.Name)
					return err
				})
			}
			guard.Commit()
			fmt.Fprintf(cmd.OutOrStdout(), "registered %d hosts\n", len(records))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON file holding an array of host records")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newHostUnregisterCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unregister <name>",
		Short: "Remove a host record (idempotent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			existed, err := c.UnregisterHost(ctx, args[0])
			if err != nil {
				return err
			}
			if existed {
				fmt.Fprintf(cmd.OutOrStdout(), "unregistered %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not registered\n", args[0])
			}
			return nil
		},
	}
	return cmd
}

func newHostShowCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Print one host record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			rec, err := c.GetHostInfo(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	return cmd
}

func newHostListCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every registered host",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, err := a.openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			hosts, err := c.ListAllHosts(ctx)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(hosts))
			for name := range hosts {
				names = append(names, name)
			}
			sort.Strings(names)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tADDRESS\tATTACHMENT\tHW ADDRESS\tAGE")
			for _, name := range names {
				rec := hosts[name]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					rec.Name, rec.Address, rec.Attachment, rec.HWAddress,
					humanize.Time(rec.CreatedAt),
				)
			}
			return w.Flush()
		},
	}
	return cmd
}

func parseMetadata(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, _ := strings.Cut(pair, "=")
		meta[key] = value
	}
	return meta
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mizusense/suimon/internal/client"
	"github.com/mizusense/suimon/internal/version"
)

// resolveServerURL returns the server URL from the flag or SUIMON_SERVER_URL
// env var. Prints a warning to stderr when falling back to the env var.
func resolveServerURL(cmd *cobra.Command, flagValue string) (string, error) {
	if cmd.Flags().Changed("server") {
		return flagValue, nil
	}
	if v := os.Getenv("SUIMON_SERVER_URL"); v != "" {
		fmt.Fprintf(os.Stderr, "suimonctl: WARNING: using server URL from SUIMON_SERVER_URL environment variable\n")
		return v, nil
	}
	return "", fmt.Errorf("server URL required: use --server flag or set SUIMON_SERVER_URL")
}

func resolveAdminToken() (string, error) {
	if v := os.Getenv("SUIMON_ADMIN_TOKEN"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("admin token required: set SUIMON_ADMIN_TOKEN")
}

func newClient(cmd *cobra.Command, serverFlag string) (*client.Client, error) {
	url, err := resolveServerURL(cmd, serverFlag)
	if err != nil {
		return nil, err
	}
	token, err := resolveAdminToken()
	if err != nil {
		return nil, err
	}
	return client.New(url, token), nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "suimonctl",
		Short:   "suimonctl - admin tooling for the suimon water-level service",
		Version: version.Version,
	}
	rootCmd.SetVersionTemplate(version.String("suimonctl") + "\n")

	rootCmd.AddCommand(newDeviceCmd())
	rootCmd.AddCommand(newMeasureCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newDeviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage the device catalog",
	}
	cmd.AddCommand(newDeviceAddCmd())
	cmd.AddCommand(newDeviceListCmd())
	cmd.AddCommand(newDeviceGetCmd())
	cmd.AddCommand(newDeviceSeedCmd())
	return cmd
}

func newDeviceSeedCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Bulk-provision devices from a JSON file",
		Long: `Provision every device in the given JSON file, a top-level array of
device objects ({"deviceId": ..., "label": ..., ...}). Devices the catalog
already has are skipped, so re-running a seed file is safe.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, serverURL)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			var reqs []client.CreateDeviceRequest
			if err := json.Unmarshal(raw, &reqs); err != nil {
				return fmt.Errorf("parse seed file: %w", err)
			}
			created, skipped, err := c.SeedDevices(reqs)
			if err != nil {
				return err
			}
			fmt.Printf("seeded %d devices (%d already present)\n", created, skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Suimon server URL (or set SUIMON_SERVER_URL)")
	return cmd
}

func newDeviceAddCmd() *cobra.Command {
	var (
		serverURL string
		label     string
		site      string
		fieldID   string
		location  string
		firmware  string
	)

	cmd := &cobra.Command{
		Use:   "add <device-id>",
		Short: "Provision a device into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, serverURL)
			if err != nil {
				return err
			}
			req := client.CreateDeviceRequest{
				DeviceID:        args[0],
				Label:           label,
				Site:            site,
				FieldID:         fieldID,
				Location:        location,
				FirmwareVersion: firmware,
			}
			if err := c.CreateDevice(req); err != nil {
				return err
			}
			fmt.Printf("device %s created\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Suimon server URL (or set SUIMON_SERVER_URL)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable device label")
	cmd.Flags().StringVar(&site, "site", "", "Site name")
	cmd.Flags().StringVar(&fieldID, "field", "", "Field identifier")
	cmd.Flags().StringVar(&location, "location", "", "Free-form location note")
	cmd.Flags().StringVar(&firmware, "firmware", "", "Firmware version")

	return cmd
}

func newDeviceListCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, serverURL)
			if err != nil {
				return err
			}
			devices, err := c.ListDevices()
			if err != nil {
				return err
			}
			for _, d := range devices {
				pos := "-"
				if d.Lat != nil && d.Lon != nil {
					pos = fmt.Sprintf("%.5f,%.5f", *d.Lat, *d.Lon)
				}
				fmt.Printf("%s\t%s\t%s\t%s\n", d.DeviceID, d.Status, pos, d.Label)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Suimon server URL (or set SUIMON_SERVER_URL)")
	return cmd
}

func newDeviceGetCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "get <device-id>",
		Short: "Show one device with its current ownership",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, serverURL)
			if err != nil {
				return err
			}
			view, err := c.GetDevice(args[0])
			if err != nil {
				return err
			}
			for _, key := range []string{"deviceId", "status", "lat", "lon", "label", "site"} {
				if v, ok := view[key]; ok && v != nil {
					fmt.Printf("%s=%v\n", key, v)
				}
			}
			if own, ok := view["ownership"].(map[string]any); ok {
				fmt.Printf("owner=%v since=%v\n", own["userId"], own["assignedAt"])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Suimon server URL (or set SUIMON_SERVER_URL)")
	return cmd
}

func newMeasureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Record and inspect device measurements",
	}
	cmd.AddCommand(newMeasureAddCmd())
	cmd.AddCommand(newMeasureLatestCmd())
	return cmd
}

func newMeasureAddCmd() *cobra.Command {
	var (
		serverURL string
		tsArg     string
	)

	cmd := &cobra.Command{
		Use:   "add <device-id> <value>",
		Short: "Record one water-level sample for a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, serverURL)
			if err != nil {
				return err
			}
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("value must be a number: %w", err)
			}
			var ts time.Time
			if tsArg != "" {
				ts, err = time.Parse(time.RFC3339, tsArg)
				if err != nil {
					return fmt.Errorf("time must be RFC3339: %w", err)
				}
			}
			if err := c.IngestMeasurement(args[0], value, ts); err != nil {
				return err
			}
			fmt.Printf("recorded %s=%.3f\n", args[0], value)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Suimon server URL (or set SUIMON_SERVER_URL)")
	cmd.Flags().StringVar(&tsArg, "time", "", "Sample time as RFC3339 (default: now)")
	return cmd
}

func newMeasureLatestCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "latest <device-id>",
		Short: "Show the most recent sample for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd, serverURL)
			if err != nil {
				return err
			}
			m, err := c.Latest(args[0])
			if err != nil {
				return err
			}
			if m.Time == nil || m.Value == nil {
				fmt.Printf("%s: no samples\n", args[0])
				return nil
			}
			fmt.Printf("%s\t%s\t%.3f\n", m.DeviceID, *m.Time, *m.Value)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Suimon server URL (or set SUIMON_SERVER_URL)")
	return cmd
}

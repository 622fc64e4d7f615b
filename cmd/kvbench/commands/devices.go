package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/piwi3910/kvbench/internal/hardware"
)

// NewDevicesCmd creates the devices command
func NewDevicesCmd() *cobra.Command {
	var (
		sysfsRoot string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List NVMe devices a run can target",
		Long: `List NVMe controllers and namespaces found in sysfs. Namespace block
devices (/dev/nvmeXnY) select the kernel driver; the PCI address of a
PCIe controller selects the user-space driver.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caps := hardware.NewDetector(sysfsRoot).Refresh()
			out := cmd.OutOrStdout()

			if asJSON {
				return printJSON(out, caps.Controllers)
			}
			if len(caps.Controllers) == 0 {
				fmt.Fprintln(out, "no NVMe controllers found")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CONTROLLER\tMODEL\tFIRMWARE\tUSER DRIVER PATH\tNAMESPACE\tKERNEL DRIVER PATH\tSIZE")
			for _, c := range caps.Controllers {
				udp := c.UserDriverPath()
				if udp == "" {
					udp = "-"
				}
				if len(c.Namespaces) == 0 {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t-\t-\t-\n", c.Name, c.Model, c.Firmware, udp)
					continue
				}
				for _, ns := range c.Namespaces {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
						c.Name, c.Model, c.Firmware, udp, ns.NSID, ns.DevicePath, humanize.IBytes(ns.SizeBytes))
				}
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&sysfsRoot, "sysfs", hardware.DefaultSysfsRoot, "sysfs mount point")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	_ = cmd.Flags().MarkHidden("sysfs")

	return cmd
}

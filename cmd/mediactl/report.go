package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/batilieri/multichat-system-sub001/internal/container"
	"github.com/batilieri/multichat-system-sub001/pkg/utils"
)

func newReportCmd(root *rootOptions) *cobra.Command {
	var tenantID, out string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export a tenant's downloads and links as a spreadsheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := utils.ValidateIdentifier("tenant", tenantID); err != nil {
				return err
			}
			if out == "" {
				out = tenantID + "-report.xlsx"
			}
			return withContainer(cmd.Context(), root, func(c *container.Container) error {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				if err := c.Reports().Write(cmd.Context(), tenantID, f); err != nil {
					f.Close()
					os.Remove(out)
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("failed to close %s: %w", out, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default <tenant>-report.xlsx)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

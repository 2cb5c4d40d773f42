package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/batilieri/multichat-system-sub001/internal/container"
)

func newReprocessCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Recover stale downloads and retry retryable failures",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), root, func(c *container.Container) error {
				summary, err := c.Services().Pipeline.Reprocess(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum records to retry")
	return cmd
}

func newReconcileCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Link every stored file that has no message record yet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), root, func(c *container.Container) error {
				summary, err := c.Services().Mapper.ReconcileOrphans(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	var instanceID, messageID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest download record of a message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), root, func(c *container.Container) error {
				rec, err := c.Services().Pipeline.LatestRecord(cmd.Context(), instanceID, messageID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "", "provider instance id")
	cmd.Flags().StringVar(&messageID, "message", "", "source message id")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

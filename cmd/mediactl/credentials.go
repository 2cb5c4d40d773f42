package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/batilieri/multichat-system-sub001/internal/container"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"github.com/batilieri/multichat-system-sub001/pkg/utils"
)

type credentialOptions struct {
	tenantID   string
	instanceID string
	token      string
	status     string
}

func newCredentialsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage tenant instance credentials",
	}
	cmd.AddCommand(newCredentialsSetCmd(root))
	return cmd
}

func newCredentialsSetCmd(root *rootOptions) *cobra.Command {
	opts := &credentialOptions{}

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Create or replace the credential of an instance",
		Example: `  mediactl credentials set --tenant tenant-a --instance I-123 --token "$TOKEN"
  mediactl credentials set --tenant tenant-a --instance I-123 --token x --status revoked`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			return withContainer(cmd.Context(), root, func(c *container.Container) error {
				cred := &entity.TenantCredential{
					TenantID:    opts.tenantID,
					InstanceID:  opts.instanceID,
					AccessToken: opts.token,
					Status:      opts.status,
				}
				if err := c.Repositories().Credentials.Upsert(cmd.Context(), cred); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "credential for %s/%s saved (%s, token %s)\n",
					cred.TenantID, cred.InstanceID, cred.Status, utils.MaskSecret(cred.AccessToken))
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.tenantID, "tenant", "", "tenant id")
	flags.StringVar(&opts.instanceID, "instance", "", "provider instance id")
	flags.StringVar(&opts.token, "token", "", "instance access token")
	flags.StringVar(&opts.status, "status", entity.CredentialStatusConnected, "connected, disconnected or revoked")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func (o *credentialOptions) validate() error {
	if err := utils.ValidateIdentifier("tenant", o.tenantID); err != nil {
		return err
	}
	if err := utils.ValidateIdentifier("instance", o.instanceID); err != nil {
		return err
	}
	if err := utils.ValidateAccessToken(o.token); err != nil {
		return err
	}
	return utils.ValidateOneOf("status", o.status,
		entity.CredentialStatusConnected,
		entity.CredentialStatusDisconnected,
		entity.CredentialStatusRevoked)
}

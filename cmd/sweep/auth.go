package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mailsweep/internal/mailapi"
	"mailsweep/internal/util"
	"mailsweep/pkg/rbac"
)

func newTokenCmd(g *globals) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token signed with the configured JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !rbac.ValidRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.JWT.TTL
			}
			tok, err := util.GenerateJWT(subject, role, cfg.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "who the token is for")
	cmd.Flags().StringVar(&role, "role", rbac.RoleViewer, "viewer, operator or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lifetime, defaults to jwt.ttl")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newLoginCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize Gmail access and save the refresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			gc := cfg.Gmail
			if err := mailapi.Login(cmd.Context(), gc.CredentialsFile, gc.TokenFile, cmd.InOrStdin(), cmd.ErrOrStderr()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nToken saved to %s\n", gc.TokenFile)
			return nil
		},
	}
}

package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	appctx "prodlog/internal/core/context"
	"prodlog/internal/domain/auth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API access tokens",
	}

	var (
		name, email string
		roles       []string
		ttl         time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for a staff member",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			jcfg := auth.DefaultJWTConfig(cfg.JWTSecret)
			if ttl > 0 {
				jcfg.AccessTokenTTL = ttl
			} else if cfg.JWTTokenTTL > 0 {
				jcfg.AccessTokenTTL = cfg.JWTTokenTTL
			}
			svc, err := auth.NewJWTService(jcfg)
			if err != nil {
				return err
			}
			return runTokenIssue(cmd.OutOrStdout(), svc, appctx.UserContext{
				UserID: uuid.NewString(),
				Name:   name,
				Email:  email,
				Roles:  roles,
			})
		},
	}
	issue.Flags().StringVar(&name, "name", "", "display name written into CREATED_BY")
	issue.Flags().StringVar(&email, "email", "", "email address")
	issue.Flags().StringSliceVar(&roles, "role", []string{appctx.RoleStaff}, "roles: staff, operator")
	issue.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from PRODLOG_JWT_TOKEN_TTL)")

	cmd.AddCommand(issue)
	return cmd
}

func runTokenIssue(w io.Writer, svc *auth.JWTService, user appctx.UserContext) error {
	if user.Name == "" && user.Email == "" {
		return errors.New("--name or --email is required")
	}
	for _, r := range user.Roles {
		if r != appctx.RoleStaff && r != appctx.RoleOperator {
			return fmt.Errorf("unknown role %q", r)
		}
	}
	token, expires, err := svc.GenerateAccessToken(user)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, token)
	fmt.Fprintf(w, "# expires %s\n", expires.Format(time.RFC3339))
	return nil
}

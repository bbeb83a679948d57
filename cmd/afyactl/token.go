package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/afyaplus/pkg/auth"
	"github.com/spf13/cobra"
)

var (
	tokenEmail string
	tokenName  string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Mint a bearer token for the jwt verifier",
	Long: `Mint an HS256 bearer token signed with JWT_SECRET.

Only useful when the API runs with AUTH_VERIFIER=jwt.

Examples:
  afyactl token patient-1 --name "Asha"
  afyactl token doctor-7 --email doc@example.com --ttl 2h`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.IsProduction() {
			return errors.New("refusing to mint tokens in production")
		}
		token, err := auth.NewToken(args[0], tokenEmail, tokenName, cfg.Auth.JWTIssuer, cfg.Auth.JWTSecret, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/frahmantamala/partner-payout/internal/auth"
	"github.com/spf13/cobra"
)

var (
	tokenAdminID     string
	tokenPermissions []string
	tokenTTL         time.Duration
)

// Admin identities are issued by an upstream identity provider. This command
// only exists to mint tokens for local development.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a signed admin token for local development",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		ttl := cfg.Security.TokenTTL
		if tokenTTL > 0 {
			ttl = tokenTTL
		}
		generator := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, ttl)

		token, err := generator.GenerateToken(tokenAdminID, tokenPermissions)
		if err != nil {
			log.Fatalf("failed to sign token: %v", err)
		}
		fmt.Println(token)
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenAdminID, "admin", "dev-admin", "admin id placed in the token subject")
	tokenCmd.Flags().StringSliceVar(&tokenPermissions, "permissions",
		[]string{auth.PermissionViewPayouts, auth.PermissionManagePayouts}, "granted permissions")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (overrides config)")

	rootCmd.AddCommand(tokenCmd)
}

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleverschool/edubot/internal/auth"
	"github.com/cleverschool/edubot/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:   "edubot",
		Short: "Educational chat agent for Discord",
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the admin API",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})

	tokenCmd := &cobra.Command{
		Use:   "token <admin-id>",
		Short: "Mint an admin JWT for the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
			if err != nil {
				return err
			}
			expiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
			if err != nil {
				return fmt.Errorf("parse jwt_expires_in: %w", err)
			}
			token, expiresAt, err := auth.GenerateToken(args[0], cfg.Auth.JWTSecret, expiresIn)
			if err != nil {
				return err
			}
			fmt.Println(token)
			fmt.Fprintf(os.Stderr, "expires: %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	root.AddCommand(tokenCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

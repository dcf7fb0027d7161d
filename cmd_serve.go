package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openpuc/scrapers/pkg/api"
	"github.com/openpuc/scrapers/pkg/config"
	"github.com/openpuc/scrapers/pkg/scrapers"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long:  "Serve health checks, Prometheus metrics and the run API",
	RunE:  runServe,
}

var scrapersCmd = &cobra.Command{
	Use:   "scrapers",
	Short: "List registered scrapers",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range scrapers.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [config]",
	Short: "Validate a config file against the schema",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file := configFile
		if len(args) == 1 {
			file = args[0]
		}
		if err := config.Validate(file); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", file)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token signed with the configured secret",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject (defaults to the current user)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	rootCmd.AddCommand(serveCmd, scrapersCmd, validateCmd, tokenCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, q, err := connectBackends(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	defer q.Client().Close()

	if cfg.API.JWTSecret == "" {
		log.Warn().Msg("no jwt secret configured, run creation is unauthenticated")
	}

	return api.New(st, q, cfg.API.JWTSecret, log).ListenAndServe(ctx, cfg.API.GetAddr())
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.API.JWTSecret == "" {
		return fmt.Errorf("api.jwt_secret or OPENPUC_JWT_SECRET is required")
	}

	subject := tokenSubject
	if subject == "" {
		subject = os.Getenv("USER")
	}

	token, err := api.IssueToken([]byte(cfg.API.JWTSecret), subject, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

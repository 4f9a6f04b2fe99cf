package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"partnerflow/apiclient"
	"partnerflow/config"
	"partnerflow/logging"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	BaseURL    string
	Token      string
	TokenFile  string
	Format     string // "text" | "json"
	Verbose    bool
}

var validFormats = []string{"text", "json"}

// app is built once per invocation by the root command.
type app struct {
	opts   *rootOptions
	cfg    *config.Config
	logger *zap.Logger
	client *apiclient.Client
}

// NewRootCommand creates the partnerctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	a := &app{opts: opts}

	cmd := &cobra.Command{
		Use:           "partnerctl",
		Short:         "Partner app client for the MoneySquad partner API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", os.Getenv("PARTNERFLOW_CONFIG"), "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.BaseURL, "base-url", "", "API base url (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "bearer token (overrides the saved session)")
	cmd.PersistentFlags().StringVar(&opts.TokenFile, "token-file", defaultTokenFile(), "where the session token is saved")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(
		newLoginCommand(a),
		newLogoutCommand(a),
		newOTPCommand(a),
		newForgotPasswordCommand(a),
		newResetPasswordCommand(a),
		newWhoamiCommand(a),
		newAcceptAgreementCommand(a),
		newLeadsCommand(a),
		newCommissionsCommand(a),
		newAssociatesCommand(a),
		newOffersCommand(a),
		newProductsCommand(a),
		newSupportCommand(a),
		newRegisterCommand(a),
	)
	return cmd
}

func (a *app) init() error {
	if !isValidFormat(a.opts.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", a.opts.Format, validFormats)
	}

	cfg, err := config.Load(a.opts.ConfigPath)
	if err != nil {
		return err
	}
	if a.opts.BaseURL != "" {
		cfg.Client.BaseURL = a.opts.BaseURL
	}
	if a.opts.Token != "" {
		cfg.Client.Token = a.opts.Token
	}
	if cfg.Client.Token == "" {
		if cfg.Client.Token, err = a.loadToken(); err != nil {
			return err
		}
	}

	logCfg := config.LogConfig{Level: "warn", Development: true}
	if a.opts.Verbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}

	client, err := apiclient.New(apiclient.Config{
		BaseURL: cfg.Client.BaseURL,
		Token:   cfg.Client.Token,
		Timeout: cfg.Client.Timeout,
		Logger:  logger.Named("api"),
	})
	if err != nil {
		return err
	}

	a.cfg, a.logger, a.client = cfg, logger, client
	return nil
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".partnerctl-token"
	}
	return filepath.Join(dir, "partnerflow", "token")
}

func (a *app) loadToken() (string, error) {
	data, err := os.ReadFile(a.opts.TokenFile)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (a *app) saveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(a.opts.TokenFile), 0o700); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := os.WriteFile(a.opts.TokenFile, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	a.client.SetToken(token)
	return nil
}

func (a *app) clearToken() error {
	a.client.Logout()
	if err := os.Remove(a.opts.TokenFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}

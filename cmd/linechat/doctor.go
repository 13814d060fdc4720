package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"linechat/internal/config"
	"linechat/internal/provider"
)

// checks tallies doctor results and prints one line per check.
type checks struct {
	out                    io.Writer
	passed, warned, failed int
}

func (c *checks) pass(check, detail string) {
	fmt.Fprintf(c.out, "  [PASS] %-22s %s\n", check, detail)
	c.passed++
}

func (c *checks) fail(check, detail string) {
	fmt.Fprintf(c.out, "  [FAIL] %-22s %s\n", check, detail)
	c.failed++
}

func (c *checks) warn(check, detail string) {
	fmt.Fprintf(c.out, "  [WARN] %-22s %s\n", check, detail)
	c.warned++
}

func doctorCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your linechat setup",
		Long: `Verifies that the configuration, credentials, history database and
backends are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			c := &checks{out: cmd.OutOrStdout()}
			fmt.Fprintf(c.out, "linechat doctor v%s\n", version)
			fmt.Fprintf(c.out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			if _, err := os.Stat(cfgPath); err != nil {
				c.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Fprintf(c.out, "\nRun 'linechat init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			c.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				c.fail("Config validation", err.Error())
				return fmt.Errorf("config invalid")
			}
			c.pass("Config validation", "valid")

			for name, v := range map[string]string{
				"LINE channel secret": cfg.LINE.ChannelSecret,
				"LINE access token":   cfg.LINE.ChannelAccessToken,
				"OpenAI API key":      cfg.OpenAI.APIKey,
				"Vision API key":      cfg.Vision.APIKey,
			} {
				if config.IsSet(v) {
					c.pass(name, "set")
				} else {
					c.fail(name, "not set (check your environment or .env)")
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if store, err := openHistory(ctx, cfg); err != nil {
				c.fail("History database", err.Error())
			} else {
				c.pass("History database", fmt.Sprintf("%s, table %s", cfg.History.Driver, cfg.History.Table))
				store.Close()
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				c.warn("Webhook port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				c.pass("Webhook port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					c.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					c.pass("Log file", cfg.General.LogFile)
				}
			}

			if offline {
				c.warn("OpenAI", "skipped (--offline)")
			} else if config.IsSet(cfg.OpenAI.APIKey) {
				ai := provider.NewOpenAI(provider.OpenAIConfig{
					APIKey:  cfg.OpenAI.APIKey,
					APIBase: cfg.OpenAI.APIBase,
					Logger:  logger,
				})
				if err := ai.Healthy(ctx); err != nil {
					c.fail("OpenAI", err.Error())
				} else {
					c.pass("OpenAI", "reachable")
				}
			}

			fmt.Fprintf(c.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Fprintf(c.out, "Results: %d passed, %d warnings, %d failed\n", c.passed, c.warned, c.failed)
			if c.failed > 0 {
				fmt.Fprintf(c.out, "\nPlease fix the failed checks before running 'linechat serve'.\n")
				return fmt.Errorf("%d check(s) failed", c.failed)
			}
			if c.warned > 0 {
				fmt.Fprintf(c.out, "\nlinechat should work but consider fixing the warnings.\n")
			} else {
				fmt.Fprintf(c.out, "\nAll checks passed! linechat is ready to serve.\n")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip checks that call external backends")
	return cmd
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

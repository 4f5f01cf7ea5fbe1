// Package cli implements dispatchctl, the operator client for the gateway.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/animus-labs/dispatch-gateway/internal/client"
)

const (
	keyServer  = "server"
	keyTimeout = "timeout"

	defaultServer = "http://localhost:8080"
)

type app struct {
	v       *viper.Viper
	cfgFile string
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// Execute runs dispatchctl with the process arguments and returns the exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New(), stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "dispatchctl",
		Short: "Register and inspect units on a dispatch gateway",
		Long: `dispatchctl talks to the admin API of a dispatch gateway.

Settings come from flags, DISPATCHCTL_* environment variables and
~/.config/dispatchctl/config.yaml, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default: ~/.config/dispatchctl/config.yaml)")
	root.PersistentFlags().String(keyServer, "", "gateway base url (default "+defaultServer+")")
	root.PersistentFlags().Duration(keyTimeout, 0, "request timeout (default 1m0s)")
	_ = a.v.BindPFlag(keyServer, root.PersistentFlags().Lookup(keyServer))
	_ = a.v.BindPFlag(keyTimeout, root.PersistentFlags().Lookup(keyTimeout))

	root.AddCommand(
		a.registerCommand(),
		a.listCommand(),
		a.repairCommand(),
		a.sourceCommand(),
	)
	return root
}

func (a *app) loadConfig() error {
	a.v.SetDefault(keyServer, defaultServer)
	a.v.SetDefault(keyTimeout, time.Minute)
	a.v.SetEnvPrefix("DISPATCHCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		a.v.AddConfigPath(filepath.Join(home, ".config", "dispatchctl"))
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (a *app) client() (*client.Client, error) {
	timeout := a.v.GetDuration(keyTimeout)
	if timeout <= 0 {
		timeout = time.Minute
	}
	return client.New(a.v.GetString(keyServer), &http.Client{Timeout: timeout})
}

// report prints err for an operator and returns it so the command exits non-zero.
func (a *app) report(err error, unit string) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		fmt.Fprintf(a.stderr, "error: %v\n", err)
		return err
	}
	fmt.Fprintf(a.stderr, "error: %s (status %d", apiErr.Code, apiErr.StatusCode)
	if apiErr.RequestID != "" {
		fmt.Fprintf(a.stderr, ", request %s", apiErr.RequestID)
	}
	fmt.Fprintln(a.stderr, ")")
	if apiErr.Code == "directory_write_failed" && apiErr.DeploymentID != "" {
		fmt.Fprintf(a.stderr, "the unit was deployed as %s but the directory was not updated\n", apiErr.DeploymentID)
		fmt.Fprintf(a.stderr, "run: dispatchctl repair %s %s\n", unit, apiErr.DeploymentID)
	}
	return err
}

// Package commands implements the edgecache CLI.
package commands

import (
	"context"
	"io"
	"os"

	"github.com/Keksclan/edgecache"
	"github.com/Keksclan/edgecache/config"
	"github.com/Keksclan/edgecache/internal/logging"
	"github.com/spf13/cobra"
)

// CLI represents the command line interface for edgecache.
type CLI struct {
	rootCmd    *cobra.Command
	configPath string
	lookup     func(string) (string, bool)
}

// New creates a CLI reading the process environment.
func New() *CLI {
	c := &CLI{lookup: os.LookupEnv}

	rootCmd := &cobra.Command{
		Use:           "edgecache",
		Short:         "Client data cache and auth-token sync layer",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", edgecache.DefaultConfigPath, "Path to the YAML configuration file")

	rootCmd.AddCommand(c.newServeCmd())
	rootCmd.AddCommand(c.newCacheCmd())
	rootCmd.AddCommand(c.newConfigCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	c.rootCmd = rootCmd
	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput redirects command output. Used for testing.
func (c *CLI) SetOutput(w io.Writer) {
	c.rootCmd.SetOut(w)
	c.rootCmd.SetErr(w)
}

// SetLookup replaces os.LookupEnv. Used for testing.
func (c *CLI) SetLookup(fn func(string) (string, bool)) {
	c.lookup = fn
}

func (c *CLI) loadConfig() (*config.Config, error) {
	return config.NewLoader().WithPath(c.configPath).WithLookup(c.lookup).Load()
}

// runtime builds a Runtime for one-shot commands. Logs go to stderr so
// command output stays machine readable.
func (c *CLI) runtime(cmd *cobra.Command) (*edgecache.Runtime, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	return edgecache.New(cmd.Context(),
		edgecache.WithConfig(cfg),
		edgecache.WithLogger(logging.New(cmd.ErrOrStderr(), cfg.Log.Format, cfg.Log.Level)),
	)
}

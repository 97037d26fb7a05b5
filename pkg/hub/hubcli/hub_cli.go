// Package hubcli is the iohubd command line: the run command the client
// connection spawns, plus operator conveniences for inspecting device
// classes and bootstrapping a config file.
package hubcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/evtlab/iohub/devices/devdocs"
	"github.com/evtlab/iohub/internal/configsvc"
	"github.com/evtlab/iohub/pkg/hub"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	_ = godotenv.Load()
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "iohub"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

func NewRootCmd(configDir string) *cobra.Command {
	cfg := hub.Config{
		ConfigPath: filepath.Join(configDir, "hub.yml"),
		DataDir:    filepath.Join(configDir, "data"),
	}
	rootCmd := &cobra.Command{
		Use:   "iohubd",
		Short: "ioHub event hub daemon",
		Long:  `iohubd monitors input devices and serves their events to experiment processes over a local UDP protocol.`,
	}
	rootCmd.PersistentFlags().StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "hub config file")
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&cfg.Listen, "listen", "", "override the configured listen address")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Float64Var(&cfg.TimeBase, "time-base", 0, "clock epoch in unix seconds, set by the spawning client")
	rootCmd.PersistentFlags().IntVar(&cfg.ClientPID, "client-pid", 0, "exit when this process dies")
	rootCmd.PersistentFlags().StringVar(&cfg.CWD, "cwd", "", "working directory to run in")
	rootCmd.AddCommand(NewRun(&cfg))
	rootCmd.AddCommand(NewDevices())
	rootCmd.AddCommand(NewConfigInit(&cfg))
	return rootCmd
}

func NewRun(cfg *hub.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the event hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := hub.New(*cfg)
			if err != nil {
				return err
			}
			return h.Run(cmd.Context())
		},
	}
}

func NewDevices() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the built-in device classes",
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := devdocs.All()
			if err != nil {
				return err
			}
			for _, doc := range docs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", doc.Type, doc.DisplayName)
				if len(doc.Defaults) == 0 {
					continue
				}
				defaults, err := json.MarshalIndent(doc.Defaults, "\t", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\t%s\n", string(defaults))
			}
			return nil
		},
	}
}

func NewConfigInit(cfg *hub.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "config-init",
		Short: "Write a default hub config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(filepath.Dir(cfg.ConfigPath), 0755); err != nil {
				return err
			}
			if err := configsvc.WriteDefault(cfg.ConfigPath, configsvc.DefaultHubConfig()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfg.ConfigPath)
			return nil
		},
	}
}

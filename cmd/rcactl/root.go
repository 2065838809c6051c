package main

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/logging"
	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/toolkitcfg"
)

var version = "dev"

type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
}

func newRootCommand() *cobra.Command {
	return newRootCommandWithIO(os.Stdout, os.Stderr)
}

func newRootCommandWithIO(out, errOut io.Writer) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("RCA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	a := &app{v: v, stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "rcactl",
		Short:         "Operate the causal root-cause toolkit",
		Long:          "rcactl fetches metric windows and service topology from monitoring backends and inspects the attribution history.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().String("config", "", "toolkit config path (env RCA_CONFIG)")
	cmd.PersistentFlags().String("log-level", "", "log level override: debug|info|warn|error (env RCA_LOG_LEVEL)")
	cmd.PersistentFlags().String("history", "", "sqlite history database (env RCA_HISTORY)")
	_ = v.BindPFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newFetchCmd(a),
		newHistoryCmd(a),
	)
	return cmd
}

// config loads the toolkit config named by --config or RCA_CONFIG, falling
// back to defaults when none is given.
func (a *app) config() (toolkitcfg.ToolkitConfig, error) {
	path := strings.TrimSpace(a.v.GetString("config"))
	if path == "" {
		return toolkitcfg.Default(), nil
	}
	return toolkitcfg.Load(path)
}

func (a *app) logger(cfg toolkitcfg.ToolkitConfig) (*zap.Logger, error) {
	level := cfg.Logging.Level
	if override := strings.TrimSpace(a.v.GetString("log-level")); override != "" {
		level = override
	}
	return logging.NewWithWriter(logging.Config{Level: level, Format: "console"}, a.stderr)
}

func (a *app) historyPath(cfg toolkitcfg.ToolkitConfig) string {
	if path := strings.TrimSpace(a.v.GetString("history")); path != "" {
		return path
	}
	return cfg.History.Path
}

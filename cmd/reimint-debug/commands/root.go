package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/reinetwork/reimint/config"
	"github.com/reinetwork/reimint/libs/log"
)

const (
	homeFlag      = "home"
	logLevelFlag  = "log-level"
	logFormatFlag = "log-format"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	home      string
	logLevel  string
	logFormat string
}

func (o *rootOptions) logger() (log.Logger, error) {
	return log.NewDefaultLogger(o.logFormat, o.logLevel)
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.home)
}

func defaultHome() string {
	if home := os.Getenv("REIMINT_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return config.DefaultReimintDir
	}
	return filepath.Join(userHome, config.DefaultReimintDir)
}

// NewRootCmd returns the reimint-debug command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "reimint-debug",
		Short:         "Inspect the consensus write-ahead log, evidence and validator schedule of a Reimint node",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.home, homeFlag, defaultHome(), "directory for config and data")
	cmd.PersistentFlags().StringVar(&opts.logLevel, logLevelFlag, log.LogLevelInfo, "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, logFormatFlag, log.LogFormatPlain, "log format (plain|json)")

	cmd.AddCommand(
		newInitCmd(opts),
		newWALCmd(opts),
		newEvidenceCmd(opts),
		newProposersCmd(),
	)
	return cmd
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reinetwork/reimint/config"
	tmos "github.com/reinetwork/reimint/libs/os"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	var (
		chainID       uint64
		maxValidators int
		genesis       []string
		force         bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config.toml into the home directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}

			if tmos.FileExists(config.ConfigFile(opts.home)) && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", config.ConfigFile(opts.home))
			}

			cfg := config.DefaultConfig()
			cfg.ChainID = chainID
			cfg.Validators.MaxCount = maxValidators
			cfg.Validators.Genesis = genesis
			if err := cfg.ValidateBasic(); err != nil {
				return err
			}

			if err := config.EnsureRoot(opts.home); err != nil {
				return err
			}
			if err := config.WriteConfigFile(opts.home, cfg); err != nil {
				return err
			}
			logger.Info("generated config", "path", config.ConfigFile(opts.home))
			return nil
		},
	}

	defaults := config.DefaultConfig()
	cmd.Flags().Uint64Var(&chainID, "chain-id", defaults.ChainID, "chain id of the signed messages")
	cmd.Flags().IntVar(&maxValidators, "max-validators", defaults.Validators.MaxCount, "maximum number of active validators")
	cmd.Flags().StringSliceVar(&genesis, "genesis", []string{}, "comma separated hex addresses of the genesis validators")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

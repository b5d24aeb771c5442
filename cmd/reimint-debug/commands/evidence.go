package commands

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"
	dbm "github.com/tendermint/tm-db"

	"github.com/reinetwork/reimint/internal/evidence"
	"github.com/reinetwork/reimint/types"
)

const evidenceDBName = "evidence"

func newEvidenceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "Inspect the evidence database",
	}
	cmd.AddCommand(newEvidenceListCmd(opts))
	return cmd
}

func newEvidenceListCmd(opts *rootOptions) *cobra.Command {
	var (
		from, to uint64
		reverse  bool
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending evidence ordered by height",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			db, err := dbm.NewDB(evidenceDBName, dbm.BackendType(cfg.Evidence.DBBackend), cfg.Evidence.DBDir())
			if err != nil {
				return fmt.Errorf("failed to open evidence db: %w", err)
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			n := 0
			return evidence.NewStore(db).LoadPendingEvidence(evidence.LoadOptions{
				From:    from,
				To:      to,
				Reverse: reverse,
				OnData: func(ev types.Evidence) bool {
					fmt.Fprintf(out, "%d %X %s\n", ev.Height(), ev.Hash().Bytes(), ev)
					n++
					return limit > 0 && n >= limit
				},
			})
		},
	}

	cmd.Flags().Uint64Var(&from, "from", 0, "lowest height (inclusive)")
	cmd.Flags().Uint64Var(&to, "to", math.MaxUint64, "highest height (inclusive)")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "list the highest heights first")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many entries (0 lists all)")
	return cmd
}

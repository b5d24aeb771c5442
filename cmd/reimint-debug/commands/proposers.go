package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/reinetwork/reimint/types"
)

func newProposersCmd() *cobra.Command {
	var (
		rounds        int
		maxValidators int
		genesis       []string
	)

	cmd := &cobra.Command{
		Use:   "proposers <address:power>...",
		Short: "Print the proposer schedule of a validator set",
		Long: `Print the proposer schedule of a validator set.

Each argument is a hex address and its voting power separated by a colon.
The active set is selected the same way a node does it: the strongest
validators up to --max-validators, padded with --genesis validators.`,
		Example: "  reimint-debug proposers 0x01:10 0x02:20 --rounds 6",
		RunE: func(cmd *cobra.Command, args []string) error {
			indexed, err := parseIndexedValidators(args)
			if err != nil {
				return err
			}
			genesisAddrs, err := parseAddresses(genesis)
			if err != nil {
				return err
			}

			vals, err := types.NewActiveValidatorSet(indexed, maxValidators, genesisAddrs)
			if err != nil {
				return err
			}
			if vals.IsNilOrEmpty() {
				return types.ErrEmptyValidatorSet
			}

			out := cmd.OutOrStdout()
			for r := 0; r < rounds; r++ {
				proposer := vals.GetProposer()
				fmt.Fprintf(out, "%d %s %d\n", r, proposer.Address.Hex(), proposer.ProposerPriority)
				if err := vals.IncrementProposerPriority(1); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&rounds, "rounds", 10, "number of rounds to print")
	cmd.Flags().IntVar(&maxValidators, "max-validators", 21, "maximum number of active validators")
	cmd.Flags().StringSliceVar(&genesis, "genesis", []string{}, "comma separated hex addresses of the genesis validators")
	return cmd
}

func parseAddresses(strs []string) ([]common.Address, error) {
	addrs := make([]common.Address, 0, len(strs))
	for _, s := range strs {
		if !isHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		addrs = append(addrs, common.HexToAddress(s))
	}
	return addrs, nil
}

func parseIndexedValidators(args []string) (*types.IndexedValidatorSet, error) {
	vals := make([]*types.IndexedValidator, 0, len(args))
	for _, arg := range args {
		parts := strings.SplitN(arg, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("expected address:power, got %q", arg)
		}
		if !isHexAddress(parts[0]) {
			return nil, fmt.Errorf("invalid address %q", parts[0])
		}
		power, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || power < 0 {
			return nil, fmt.Errorf("invalid voting power %q", parts[1])
		}
		vals = append(vals, &types.IndexedValidator{
			Address:     common.HexToAddress(parts[0]),
			VotingPower: power,
		})
	}
	return types.NewIndexedValidatorSet(vals), nil
}

// isHexAddress accepts short forms like 0x01, which are left padded.
func isHexAddress(s string) bool {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) == 0 || len(s) > 2*common.AddressLength {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

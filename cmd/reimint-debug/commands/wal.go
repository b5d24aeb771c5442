package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/reinetwork/reimint/internal/consensus"
	"github.com/reinetwork/reimint/libs/autofile"
)

func newWALCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wal",
		Short: "Inspect the consensus write-ahead log",
	}
	cmd.AddCommand(newWALDumpCmd(opts))
	return cmd
}

func newWALDumpCmd(opts *rootOptions) *cobra.Command {
	var (
		file   string
		height uint64
		after  bool
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the records of the write-ahead log, one per line",
		Long: `Print the records of the write-ahead log, one per line.

Without --file the whole segment group configured in config.toml is read,
oldest segment first. With --after-height the dump starts right after the
end-height marker of the given height.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open WAL file: %w", err)
				}
				defer f.Close()
				return dumpWAL(out, consensus.NewWALDecoder(f).Decode)
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}

			// reading must not create the group
			walFile := cfg.WAL.WalFile()
			if _, err := os.Stat(filepath.Dir(walFile)); err != nil {
				return fmt.Errorf("failed to read WAL: %w", err)
			}
			wal, err := consensus.NewWAL(logger, walFile,
				autofile.GroupHeadSizeLimit(cfg.WAL.HeadSizeLimit),
				autofile.GroupTotalSizeLimit(cfg.WAL.TotalSizeLimit),
				autofile.GroupCheckDuration(cfg.WAL.CheckDuration),
				autofile.GroupMaxFilesToRemove(cfg.WAL.MaxFilesToRemove),
			)
			if err != nil {
				return err
			}
			if err := wal.Group().LoadSegments(); err != nil {
				return err
			}

			var rd *consensus.WALReader
			if after {
				var found bool
				rd, found, err = wal.SearchForEndHeight(height)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("no end-height marker for height %d", height)
				}
			} else {
				rd, err = wal.NewReader()
				if err != nil {
					return err
				}
			}
			defer rd.Close()
			return dumpWAL(out, rd.Read)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "decode a single WAL file instead of the configured group")
	cmd.Flags().Uint64Var(&height, "after-height", 0, "start after the end-height marker of this height")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		after = cmd.Flags().Changed("after-height")
	}
	return cmd
}

func dumpWAL(out io.Writer, next func() (consensus.WALMessage, error)) error {
	for {
		msg, err := next()
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to decode msg: %w", err)
		}

		switch m := msg.(type) {
		case *consensus.EndHeightMessage:
			fmt.Fprintf(out, "ENDHEIGHT %d\n", m.Height)
		case *consensus.MsgInfo:
			inner, err := m.Message()
			if err != nil {
				return fmt.Errorf("failed to decode wrapped msg: %w", err)
			}
			fmt.Fprintf(out, "MSG %s peer=%q\n", inner, m.PeerID)
		default:
			fmt.Fprintf(out, "%s\n", msg)
		}
	}
}

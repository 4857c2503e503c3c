package keylog

import (
	"github.com/spf13/cobra"
)

// KeylogCmd groups the key log commands.
var KeylogCmd = &cobra.Command{
	Use:   "keylog",
	Short: "Inspect NSS key log files",
	Long: `Inspect NSS key log files (SSLKEYLOGFILE).

Subcommands:
  check   - Parse a key log and report entries and malformed lines
  watch   - Follow a key log or named pipe and report what arrives`,
}

var format string

func init() {
	KeylogCmd.AddCommand(checkCmd)
	KeylogCmd.AddCommand(watchCmd)

	KeylogCmd.PersistentFlags().StringVar(&format, "format", "", "output format (json, yaml, text; default text)")
}

package keylog

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/endorses/tlsdissect/internal/pkg/cmdutil"
	"github.com/endorses/tlsdissect/internal/pkg/output"
	kl "github.com/endorses/tlsdissect/internal/pkg/tls/keylog"
	"github.com/endorses/tlsdissect/internal/pkg/tls/secrets"
)

var checkCmd = &cobra.Command{
	Use:   "check FILE",
	Short: "Parse a key log and report its entries",
	Long: `Parse a key log and report the number of entries per label, duplicate
and conflicting secrets, and every line that could not be parsed.
The command fails when any line is malformed.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

var strict bool

func init() {
	checkCmd.Flags().BoolVar(&strict, "strict", false, "report unknown labels as errors")
}

// CheckResult is the outcome of a key log check.
type CheckResult struct {
	Path       string         `json:"path" yaml:"path"`
	Entries    int            `json:"entries" yaml:"entries"`
	Labels     map[string]int `json:"labels" yaml:"labels"`
	Duplicates uint64         `json:"duplicates" yaml:"duplicates"`
	Collisions uint64         `json:"collisions" yaml:"collisions"`
	Errors     []string       `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Check parses the key log read from r.
func Check(path string, r io.Reader, strict bool) CheckResult {
	parser := &kl.Parser{StrictMode: strict}
	entries, errs := parser.Parse(r)

	cache := secrets.NewCache(secrets.Config{})
	res := CheckResult{Path: path, Entries: len(entries), Labels: make(map[string]int)}
	for _, e := range entries {
		res.Labels[e.Label.String()]++
		cache.AddEntry(e)
	}
	stats := cache.Stats()
	res.Duplicates = stats.Duplicates
	res.Collisions = stats.Collisions
	for _, err := range errs {
		res.Errors = append(res.Errors, err.Error())
	}
	return res
}

func runCheck(cmd *cobra.Command, args []string) error {
	f, err := output.ParseFormat(cmdutil.GetStringConfig("output.format", format))
	if err != nil {
		return err
	}

	file, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer file.Close()

	res := Check(args[0], file, strict)

	printer := output.NewPrinter(cmd.OutOrStdout(), f, output.PrettyJSON(cmd.OutOrStdout(), f))
	if err := printer.Document("keylog_check", res, func(w io.Writer) error { return writeCheckText(w, res) }); err != nil {
		return err
	}
	if err := printer.Close(); err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("%s: %d malformed lines", args[0], len(res.Errors))
	}
	return nil
}

func writeCheckText(w io.Writer, res CheckResult) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d entries, %d duplicates, %d collisions\n", res.Path, res.Entries, res.Duplicates, res.Collisions)
	for _, label := range kl.Labels() {
		if n := res.Labels[label.String()]; n > 0 {
			fmt.Fprintf(&b, "  %-32s %d\n", label.String(), n)
		}
	}
	for _, e := range res.Errors {
		fmt.Fprintf(&b, "  error: %s\n", e)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

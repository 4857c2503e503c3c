package suites

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/endorses/tlsdissect/internal/pkg/cmdutil"
	"github.com/endorses/tlsdissect/internal/pkg/output"
	"github.com/endorses/tlsdissect/internal/pkg/tls/decrypt"
	"github.com/endorses/tlsdissect/internal/pkg/tls/suites"
)

var SuitesCmd = &cobra.Command{
	Use:   "suites",
	Short: "List the cipher suites tlsd can decrypt",
	Long: `List the cipher suites tlsd can decrypt.

Examples:
  tlsd suites
  tlsd suites --version tls1.3
  tlsd suites --version dtls1.2 --format json`,
	Args: cobra.NoArgs,
	RunE: runSuites,
}

var (
	protocol string
	format   string
)

func init() {
	SuitesCmd.Flags().StringVar(&protocol, "version", "", "only suites usable with this version (ssl3, tls1.0-tls1.3, dtls1.0, dtls1.2)")
	SuitesCmd.Flags().StringVar(&format, "format", "", "output format (json, yaml, text; default text)")
}

var protocolVersions = map[string]uint16{
	"ssl3":    decrypt.VersionSSL30,
	"tls1.0":  decrypt.VersionTLS10,
	"tls1.1":  decrypt.VersionTLS11,
	"tls1.2":  decrypt.VersionTLS12,
	"tls1.3":  decrypt.VersionTLS13,
	"dtls1.0": decrypt.VersionDTLS10,
	"dtls1.2": decrypt.VersionDTLS12,
}

// Suite is one row of the listing.
type Suite struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Kex      string `json:"kex" yaml:"kex"`
	Cipher   string `json:"cipher" yaml:"cipher"`
	Mode     string `json:"mode" yaml:"mode"`
	MAC      string `json:"mac" yaml:"mac"`
	Export   bool   `json:"export,omitempty" yaml:"export,omitempty"`
	Versions string `json:"versions" yaml:"versions"`
}

// List returns the suites usable with version, or every suite when version
// is 0.
func List(version uint16) []Suite {
	var out []Suite
	for _, d := range suites.All() {
		if version != 0 && !Usable(d, version) {
			continue
		}
		out = append(out, Suite{
			ID:       fmt.Sprintf("0x%04X", d.ID),
			Name:     d.Name,
			Kex:      d.Kex.String(),
			Cipher:   d.Bulk.String(),
			Mode:     d.Mode.String(),
			MAC:      d.Digest.String(),
			Export:   d.Export,
			Versions: versionRange(d),
		})
	}
	return out
}

// Usable reports whether d can be negotiated with version.
func Usable(d *suites.Descriptor, version uint16) bool {
	if version == decrypt.VersionTLS13 {
		return d.IsTLS13()
	}
	if d.IsTLS13() {
		return false
	}
	if needsTLS12(d) && version != decrypt.VersionTLS12 && version != decrypt.VersionDTLS12 {
		return false
	}
	if decrypt.IsDTLS(version) && d.Mode == suites.ModeStream && !d.IsNull() {
		return false
	}
	_, ok := suites.LookupForVersion(d.ID, version)
	return ok
}

// needsTLS12 reports suites defined for TLS 1.2 and DTLS 1.2 only.
func needsTLS12(d *suites.Descriptor) bool {
	return d.Mode.IsAEAD() || d.Digest == suites.DigestSHA256 || d.Digest == suites.DigestSHA384
}

func versionRange(d *suites.Descriptor) string {
	switch {
	case d.IsTLS13():
		return "TLS 1.3"
	case needsTLS12(d):
		return "TLS 1.2, DTLS 1.2"
	}
	if _, ok := suites.LookupForVersion(d.ID, decrypt.VersionSSL30); ok {
		return "SSL 3.0 - TLS 1.2"
	}
	return "TLS 1.0 - TLS 1.2"
}

func runSuites(cmd *cobra.Command, args []string) error {
	f, err := output.ParseFormat(cmdutil.GetStringConfig("output.format", format))
	if err != nil {
		return err
	}
	var version uint16
	if protocol != "" {
		v, ok := protocolVersions[strings.ToLower(protocol)]
		if !ok {
			return fmt.Errorf("unknown version %q", protocol)
		}
		version = v
	}

	list := List(version)
	printer := output.NewPrinter(cmd.OutOrStdout(), f, output.PrettyJSON(cmd.OutOrStdout(), f))
	if err := printer.Document("suites", list, func(w io.Writer) error { return writeTable(w, list) }); err != nil {
		return err
	}
	return printer.Close()
}

func writeTable(w io.Writer, list []Suite) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKEX\tCIPHER\tMODE\tMAC\tVERSIONS")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Kex, s.Cipher, s.Mode, s.MAC, s.Versions)
	}
	return tw.Flush()
}

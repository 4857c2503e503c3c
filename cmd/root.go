package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/endorses/tlsdissect/cmd/decrypt"
	"github.com/endorses/tlsdissect/cmd/keylog"
	"github.com/endorses/tlsdissect/cmd/suites"
	"github.com/endorses/tlsdissect/internal/pkg/logger"
	"github.com/endorses/tlsdissect/internal/pkg/version"
)

var cfgFile string

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tlsd",
		Short: "tlsd decrypts TLS and DTLS captures",
		Long: `tlsd decrypts the TLS and DTLS records of packet captures with secrets
from NSS key log files, RSA private keys or pre-shared keys.`,
		Version:           version.Get().String(),
		SilenceUsage:      true,
		PersistentPreRunE: configureLogging,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/tlsdissect/config.yaml)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "text", "log format (json, text)")
	_ = viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", cmd.PersistentFlags().Lookup("log-format"))

	cmd.AddCommand(decrypt.DecryptCmd)
	cmd.AddCommand(keylog.KeylogCmd)
	cmd.AddCommand(suites.SuitesCmd)
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func configureLogging(cmd *cobra.Command, args []string) error {
	return logger.Configure(viper.GetString("log.level"), viper.GetString("log.format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(filepath.Join(home, ".config", "tlsdissect"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("tlsd")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		os.Exit(1)
	}
}

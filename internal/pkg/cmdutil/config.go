// Package cmdutil provides shared utilities for CLI command implementations.
package cmdutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GetStringConfig returns flagValue when it is set, otherwise the config
// value for key.
func GetStringConfig(key, flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return viper.GetString(key)
}

// GetStringSliceConfig returns flagValue when it has entries, otherwise the
// config value for key.
func GetStringSliceConfig(key string, flagValue []string) []string {
	if len(flagValue) > 0 {
		return flagValue
	}
	// viper.IsSet is true for bound flags even when the file lacks the key
	if configValue := viper.GetStringSlice(key); len(configValue) > 0 {
		return configValue
	}
	return flagValue
}

// GetIntConfig returns the config value for key, or flagValue if the key is not set.
func GetIntConfig(key string, flagValue int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	return flagValue
}

// GetBoolConfig returns true when either the flag or the config value for
// key is set.
func GetBoolConfig(key string, flagValue bool) bool {
	return flagValue || viper.GetBool(key)
}

// GetDurationConfig returns the config value for key, or flagValue if the key is not set.
func GetDurationConfig(key string, flagValue time.Duration) time.Duration {
	if viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	return flagValue
}

// ParsePorts parses port lists such as "443,4433" or ["443", "8443"].
// Entries may themselves be comma separated.
func ParsePorts(values []string) ([]uint16, error) {
	var ports []uint16
	for _, v := range values {
		for _, field := range strings.Split(v, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			n, err := strconv.ParseUint(field, 10, 16)
			if err != nil || n == 0 {
				return nil, fmt.Errorf("invalid port %q", field)
			}
			ports = append(ports, uint16(n))
		}
	}
	return ports, nil
}

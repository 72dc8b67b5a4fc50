// Package config loads tuta-export's configuration by layering CLI flags
// over environment variables over a .env file in the working directory.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/tuta-cli/tuta-export/internal/errs"
)

const (
	KeyUsername       = "username"
	KeyPassword       = "password"
	KeyOutputDir      = "output-dir"
	KeyFanOut         = "fan-out"
	KeyPageSize       = "page-size"
	KeyRequestTimeout = "request-timeout-seconds"
)

func init() {
	viper.SetDefault(KeyOutputDir, "./out")
	viper.SetDefault(KeyFanOut, 8)
	viper.SetDefault(KeyPageSize, 1000)
	viper.SetDefault(KeyRequestTimeout, 60)
}

// LoadDotEnv loads a .env file from the current working directory if
// present. Missing files are not an error; malformed ones are.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.New(errs.KindConfig, "stat .env", err)
	}
	if err := gotenv.Load(".env"); err != nil {
		return errs.New(errs.KindConfig, "load .env", err)
	}
	return nil
}

// BindPersistentFlags registers the global flags shared by every subcommand
// and binds them into viper, following rootCmd's PersistentFlags/BindPFlag
// pattern.
func BindPersistentFlags(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.String("username", "", "account username (env TUTANOTA_CLI_USERNAME)")
	flags.String("password", "", "account password (env TUTANOTA_CLI_PASSWORD)")
	flags.StringP("output-dir", "o", "./out", "directory to write exported mail into")
	flags.Int("fan-out", 8, "number of mails processed concurrently during export")
	flags.Int("page-size", 1000, "list page size used while paginating a folder")
	flags.Int("request-timeout-seconds", 60, "per-request HTTP timeout, in seconds")
	flags.CountP("verbose", "v", "increase log verbosity (-v, -vv)")

	viper.SetEnvPrefix("tutanota_cli")
	viper.AutomaticEnv()

	for _, key := range []string{KeyUsername, KeyPassword, KeyOutputDir, KeyFanOut, KeyPageSize, KeyRequestTimeout} {
		flagName := key
		if err := viper.BindPFlag(flagName, flags.Lookup(flagName)); err != nil {
			return errs.New(errs.KindConfig, fmt.Sprintf("bind flag %s", flagName), err)
		}
	}
	return nil
}

// Credentials holds the resolved username/password, validated non-empty.
type Credentials struct {
	Username string
	Password string
}

// ResolveCredentials reads username/password from viper (flags > env > .env)
// and fails with KindConfig if either is empty.
func ResolveCredentials() (Credentials, error) {
	username := viper.GetString(KeyUsername)
	password := viper.GetString(KeyPassword)

	if username == "" {
		username = os.Getenv("TUTANOTA_CLI_USERNAME")
	}
	if password == "" {
		password = os.Getenv("TUTANOTA_CLI_PASSWORD")
	}

	if username == "" {
		return Credentials{}, errs.New(errs.KindConfig, "resolve credentials", fmt.Errorf("username must not be empty"))
	}
	if password == "" {
		return Credentials{}, errs.New(errs.KindConfig, "resolve credentials", fmt.Errorf("password must not be empty"))
	}

	return Credentials{Username: username, Password: password}, nil
}

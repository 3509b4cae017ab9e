package cmd

import (
	"fmt"

	"github.com/coreos/go-semver/semver"
	"github.com/spf13/cobra"
)

// version is replaced at link time with -ldflags "-X ...cmd.version=1.2.3".
var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	RunE:  RunVersion,
}

// Version returns the parsed build version.
func Version() (*semver.Version, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("bad build version %q: %w", version, err)
	}
	return v, nil
}

// UserAgent returns the User-Agent written into built messages.
func UserAgent() string {
	v, err := Version()
	if err != nil {
		return "mailbuild"
	}
	return "mailbuild/" + v.String()
}

func RunVersion(cmd *cobra.Command, _ []string) error {
	v, err := Version()
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "mailbuild v%s\n", v)
	return err
}

// Package cli is the terminal front-end: it mounts the dashboard views over
// the core and renders them as text or JSON.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	APIURL     string
	Profile    string
	PublicDemo bool
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "shopfloor",
		Short: "shopfloor - manufacturing execution dashboard",
		Long: `Terminal front-end for the shopfloor manufacturing execution system.

Without an API URL the commands run against built-in demo data in public
demo mode. Demo visitors can look at everything but cannot change anything.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.APIURL, "api", "", "shopfloord base URL (default $SHOPFLOOR_API_URL or the profile)")
	cmd.PersistentFlags().StringVar(&opts.Profile, "profile", "", "profile file (default $SHOPFLOOR_PROFILE or ~/.shopfloor.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.PublicDemo, "public-demo", false, "browse as a public demo visitor")

	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewSignupCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewDemoCommand(opts))
	cmd.AddCommand(NewPublicDemoCommand(opts))
	cmd.AddCommand(NewWhoamiCommand(opts))
	cmd.AddCommand(NewMachinesCommand(opts))
	cmd.AddCommand(NewProductsCommand(opts))
	cmd.AddCommand(NewDashboardCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

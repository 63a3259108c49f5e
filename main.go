package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "github.com/tliron/commonlog/simple"

	"github.com/igor-prusov/dts-lsp/internal/config"
	"github.com/igor-prusov/dts-lsp/internal/logging"
	"github.com/igor-prusov/dts-lsp/internal/server"
)

// Version will be set during the build process using ldflags
var Version = "(dev) v0.0.0"

var (
	flagExperimental bool
	flagFullScan     bool
	flagWatch        bool
	flagLogfile      string
	flagVerbose      int
	flagIndexDB      string
	flagVersion      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "dts-lsp",
	Short:         "Language server for devicetree sources",
	Long:          "dts-lsp serves go-to-definition, references and rename for devicetree labels and macros over stdio.",
	Args:          cobra.NoArgs,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runServe,
}

func init() {
	flags := rootCmd.Flags()
	flags.BoolVar(&flagExperimental, "experimental", false, "publish syntax diagnostics")
	flags.BoolVar(&flagFullScan, "full-scan", false, "index the whole workspace at startup")
	flags.BoolVar(&flagWatch, "watch", false, "re-index files changed on disk")
	flags.StringVar(&flagLogfile, "logfile", "", "path to log file (default: stderr)")
	flags.CountVarP(&flagVerbose, "verbose", "v", "increase log verbosity")
	flags.StringVar(&flagIndexDB, "index-db", "", `export the index to this SQLite file ("auto" for the state directory)`)
	flags.BoolVar(&flagVersion, "version", false, "print the version and exit")

	rootCmd.AddCommand(dumpCmd)
}

// overrides returns the settings of every flag the user set explicitly.
func overrides(cmd *cobra.Command) server.Override {
	flags := cmd.Flags()
	return func(c *config.Config) {
		if flags.Changed("experimental") {
			c.Experimental = flagExperimental
		}
		if flags.Changed("full-scan") {
			c.FullScan = flagFullScan
		}
		if flags.Changed("watch") {
			c.Watch = flagWatch
		}
		if flags.Changed("index-db") {
			c.IndexDB = flagIndexDB
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if flagVersion {
		fmt.Printf("dts-lsp version %s\n", Version)
		return nil
	}

	// glsp itself logs through commonlog
	logging.Configure(1+flagVerbose, flagLogfile)
	log := logging.New(logging.Client, "server")
	log.Infof("Starting dts-lsp %s", Version)

	server.Version = Version
	srv, err := server.NewServer(config.Default(), overrides(cmd), log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.RunStdio()
}

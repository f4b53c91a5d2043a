package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	cfgFile string
	quiet   bool
}

func newRootCmd() *cobra.Command {
	var g globalOptions
	root := &cobra.Command{
		Use:           "csvjob",
		Short:         "csvjob filters CSV datasets in object storage as managed batch job runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.cfgFile, "config", "", "config file (default is $PWD/csvjob.yaml)")
	root.PersistentFlags().BoolVar(&g.quiet, "quiet", false, "suppress log output")

	root.AddCommand(
		newJobCmd(&g, "run", "Cast and filter the score column of a CSV dataset", ""),
		newJobCmd(&g, "clean", "Validate raw rows against the id,name,email,score,date schema", "clean"),
		newRunsCmd(&g),
		newSecretsCmd(&g),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(cmdContext()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

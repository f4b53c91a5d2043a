package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	gitCommit = ""
	buildDate = ""
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print csvjob version",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "csvjob version: %s\n", version)
			if gitCommit != "" {
				fmt.Fprintf(out, "git commit: %s\n", gitCommit)
			}
			if buildDate != "" {
				fmt.Fprintf(out, "build date: %s\n", buildDate)
			}
		},
	}
}

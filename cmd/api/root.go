package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "retina-inspector",
	Short: "retina-inspector is the gateway for diabetic retinopathy screening",
	Long: `retina-inspector sits between the web frontend and the analysis backend.
It gates image uploads behind patient consent, submits fundus images to the
model ensemble and serves the rendered results and CMS pages.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("No subcommand given")
		_ = cmd.Usage()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file layered under the process environment")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Exit with a nonzero exit code if the command fails with an error
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

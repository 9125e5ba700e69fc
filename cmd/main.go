// cmd/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chhz0/webauto/config"
	"github.com/chhz0/webauto/logger"
	"github.com/chhz0/webauto/server"
)

var (
	cfgFile string
	apiAddr string
)

var rootCmd = &cobra.Command{
	Use:   "webauto",
	Short: "Headless web-automation task queue",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the task queue daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		log := logger.InitLogger(cfg.LogLevel, "webauto")

		srv, err := server.New(cfg, log)
		if err != nil {
			return err
		}
		return srv.Start()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default webauto.yaml in cwd)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "http://localhost:8080", "daemon api address")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(listCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Package main is the entry point for plangate.
package main

import (
	"context"
	"os"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "plangate.yaml"
	appName           = "plangate"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "API gateway that selects an access plan per request",
	Long: `plangate resolves every request to an access plan. The API key handler
admits a request for a plan when its key is present and bound to that plan,
the keyless handler admits anything else, and the selected plan's policies
validate the key and enforce rate limits before the request is forwarded.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file path (default: ./"+defaultConfigFile+" or ~/.config/"+appName+"/"+defaultConfigFile+")")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sel4go/sel4/provision"
)

var (
	version = "dev"

	cacheDir   string
	platform   string
	constraint string
	timeout    time.Duration
	debug      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "drivercache",
	Short: "Prefetch WebDriver binaries into the local driver cache",
	Long: `drivercache resolves and downloads browser driver binaries ahead of a
test run, so that the run itself never waits on the network.

Resolved binaries land in the same cache directory the runner uses;
re-fetching an already cached driver is a no-op.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <browser>...",
	Short: "Resolve and download drivers for the given browsers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver, err := provision.NewResolver(provision.Config{CacheDir: cacheDir})
		if err != nil {
			return err
		}
		defer resolver.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		for _, browser := range args {
			resolved, err := resolver.Resolve(ctx, browser, constraint, platform)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\t%s\n", resolved.Browser, resolved.Version, resolved.BinaryPath)
		}
		return nil
	},
}

var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the cache directory in use",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cacheDir
		if dir == "" {
			base, err := os.UserCacheDir()
			if err != nil {
				return err
			}
			dir = filepath.Join(base, "sel4-drivers")
		}
		fmt.Println(dir)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "driver cache directory (default: user cache dir)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	fetchCmd.Flags().StringVar(&platform, "platform", provision.Linux64, "target platform")
	fetchCmd.Flags().StringVar(&constraint, "version", "latest", "browser version constraint")
	fetchCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall fetch timeout")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(pathCmd)
}

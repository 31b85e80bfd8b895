package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rexliu/davmark/pkg/config"
	"github.com/rexliu/davmark/pkg/ipc"
)

const version = "0.3.0"

var (
	profileDir     string
	socketOverride string
	callTimeout    time.Duration
	jsonOutput     bool
)

var rootCmd = &cobra.Command{
	Use:   "davmark",
	Short: "Bookmark sync over WebDAV",
	Long: `davmark keeps a local bookmark tree in sync with timestamped backup
files on a WebDAV server.

Most commands talk to the bmd daemon over its Unix socket. Profile
commands (init, diag, remote) edit config.toml directly.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profileDir, "profile", "./_dev_profile", "Profile directory")
	rootCmd.PersistentFlags().StringVar(&socketOverride, "socket", "", "Override IPC socket path")
	rootCmd.PersistentFlags().DurationVar(&callTimeout, "timeout", 2*time.Minute, "Daemon call timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON results")

	rootCmd.AddGroup(
		&cobra.Group{ID: "profile", Title: "Profile:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "tree", Title: "Bookmarks:"},
	)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("davmark %s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadProfile() (*config.ProfileConfig, error) {
	cfg, err := config.LoadProfile(profileDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config not found in %s (run 'davmark init --profile %s')", profileDir, profileDir)
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func socketPath() (string, error) {
	if socketOverride != "" {
		return socketOverride, nil
	}
	cfg, err := loadProfile()
	if err != nil {
		return "", err
	}
	return config.ResolvePath(profileDir, cfg.IPC.SocketPath), nil
}

// call sends one request to the daemon and decodes its result into out
// when out is non-nil.
func call(cmd *cobra.Command, method string, params any, out any) (json.RawMessage, error) {
	path, err := socketPath()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()
	resp, err := ipc.Call(ctx, path, method, params)
	if err != nil {
		return nil, err
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return resp.Result, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

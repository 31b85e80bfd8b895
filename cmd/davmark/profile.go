package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rexliu/davmark/pkg/config"
	"github.com/rexliu/davmark/pkg/webdav"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "profile",
	Short:   "Initialize a local profile (writes config.toml)",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		force, _ := cmd.Flags().GetBool("force")
		if err := os.MkdirAll(profileDir, 0o700); err != nil {
			return err
		}
		path := config.FilePath(profileDir)
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
		}
		cfg := config.DefaultProfile(name)
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Printf("%s initialized profile %s at %s\n", renderPass("✓"), cfg.ProfileName, profileDir)
		return nil
	},
}

var diagCmd = &cobra.Command{
	Use:     "diag",
	GroupID: "profile",
	Short:   "Print profile configuration paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadProfile()
		if err != nil {
			return err
		}
		fmt.Printf("Profile: %s\n", cfg.ProfileName)
		fmt.Printf("Browser: %s\n", cfg.BrowserName)
		fmt.Printf("Config: %s\n", config.FilePath(profileDir))
		fmt.Printf("DB Path: %s\n", config.ResolvePath(profileDir, cfg.Storage.DBPath))
		fmt.Printf("Socket: %s\n", config.ResolvePath(profileDir, cfg.IPC.SocketPath))
		if cfg.Logging.FilePath != "" {
			fmt.Printf("Log File: %s\n", config.ResolvePath(profileDir, cfg.Logging.FilePath))
		}
		if cfg.RemoteConfigured() {
			fmt.Printf("WebDAV: %s/%s\n", strings.TrimRight(cfg.Remote.URL, "/"), cfg.Remote.Directory)
		} else {
			fmt.Println("WebDAV: not configured")
		}
		fmt.Printf("Auto sync: %t (every %s, debounce %s)\n", cfg.Sync.AutoSync, cfg.Sync.Interval.Duration, cfg.Sync.Debounce.Duration)
		fmt.Printf("History: %s branch (enabled=%t)\n", cfg.VCS.Branch, cfg.VCS.Enabled)
		if cfg.VCS.Remote.URL != "" {
			fmt.Printf("Git remote: %s\n", cfg.VCS.Remote.URL)
		}
		return nil
	},
}

var remoteCmd = &cobra.Command{
	Use:     "remote",
	GroupID: "profile",
	Short:   "Manage the WebDAV server configuration",
}

var remoteSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the WebDAV server URL and credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadProfile()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		url, _ := flags.GetString("url")
		if url == "" {
			return fmt.Errorf("--url is required")
		}
		cfg.Remote.URL = url
		if flags.Changed("username") {
			cfg.Remote.Username, _ = flags.GetString("username")
		}
		if flags.Changed("password") {
			cfg.Remote.Password, _ = flags.GetString("password")
		}
		if ask, _ := flags.GetBool("ask-password"); ask {
			pw, err := readPassword("WebDAV password: ")
			if err != nil {
				return err
			}
			cfg.Remote.Password = pw
		}
		if flags.Changed("directory") {
			dir, _ := flags.GetString("directory")
			cfg.Remote.Directory = strings.Trim(dir, "/")
		}
		if err := config.Save(config.FilePath(profileDir), cfg); err != nil {
			return err
		}
		fmt.Printf("%s remote set to %s (restart bmd to apply)\n", renderPass("✓"), url)
		return nil
	},
}

var remoteShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the configured WebDAV server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadProfile()
		if err != nil {
			return err
		}
		if !cfg.RemoteConfigured() {
			fmt.Println("remote not configured")
			return nil
		}
		fmt.Printf("URL: %s\n", cfg.Remote.URL)
		fmt.Printf("Directory: %s\n", cfg.Remote.Directory)
		if cfg.Remote.Username != "" {
			fmt.Printf("Username: %s\n", cfg.Remote.Username)
		}
		if cfg.Remote.Password != "" {
			fmt.Println("Password: (set)")
		}
		return nil
	},
}

var remoteTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that the WebDAV server accepts the credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadProfile()
		if err != nil {
			return err
		}
		if !cfg.RemoteConfigured() {
			return fmt.Errorf("remote not configured (run 'davmark remote set')")
		}
		client, err := webdav.NewClient(webdav.Options{
			URL:      cfg.Remote.URL,
			Username: cfg.Remote.Username,
			Password: cfg.Remote.Password,
			Timeout:  cfg.Remote.Timeout.Duration,
		})
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Remote.Timeout.Duration)
		defer cancel()
		if err := client.TestConnection(ctx); err != nil {
			fmt.Printf("%s %v\n", renderFail("✗"), err)
			return err
		}
		fmt.Printf("%s connected to %s\n", renderPass("✓"), client.URL())
		return nil
	},
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	initCmd.Flags().String("name", "dev", "Profile name")
	initCmd.Flags().Bool("force", false, "Overwrite existing config if present")

	remoteSetCmd.Flags().String("url", "", "WebDAV server URL")
	remoteSetCmd.Flags().String("username", "", "WebDAV username")
	remoteSetCmd.Flags().String("password", "", "WebDAV password")
	remoteSetCmd.Flags().Bool("ask-password", false, "Prompt for the password")
	remoteSetCmd.Flags().String("directory", config.DefaultDirectory, "Remote directory holding backups")
	remoteCmd.AddCommand(remoteSetCmd, remoteShowCmd, remoteTestCmd)

	rootCmd.AddCommand(initCmd, diagCmd, remoteCmd)
}

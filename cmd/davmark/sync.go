package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rexliu/davmark/pkg/syncer"
	"github.com/rexliu/davmark/pkg/webdav"
)

func runSyncCommand(cmd *cobra.Command, method string, params map[string]any) error {
	var res syncer.Result
	raw, err := call(cmd, method, params, &res)
	if err != nil {
		return err
	}
	if jsonOutput {
		fmt.Println(string(raw))
	} else {
		fmt.Print(formatResult(res))
	}
	if !res.Success && res.Action != syncer.ActionConflict {
		return fmt.Errorf("%s", res.Message)
	}
	return nil
}

var pushCmd = &cobra.Command{
	Use:     "push",
	GroupID: "sync",
	Short:   "Upload the local tree as a backup file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSyncCommand(cmd, "sync_push", map[string]any{"trigger": syncer.TriggerManual})
	},
}

var pullCmd = &cobra.Command{
	Use:     "pull",
	GroupID: "sync",
	Short:   "Apply the newest remote backup to the local tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]any{"trigger": syncer.TriggerManual}
		if mode, _ := cmd.Flags().GetString("mode"); mode != "" {
			params["mode"] = mode
		}
		return runSyncCommand(cmd, "sync_pull", params)
	},
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push or pull, whichever side changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSyncCommand(cmd, "sync_smart", map[string]any{"trigger": syncer.TriggerManual})
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the recorded sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload struct {
			Configured bool           `json:"configured"`
			Status     *syncer.Status `json:"status"`
		}
		raw, err := call(cmd, "sync_status", nil, &payload)
		if err != nil {
			return err
		}
		if jsonOutput {
			fmt.Println(string(raw))
			return nil
		}
		if !payload.Configured || payload.Status == nil {
			fmt.Println("remote not configured")
			return nil
		}
		st := payload.Status
		fmt.Printf("Endpoint: %s/%s\n", st.Endpoint, st.Directory)
		if st.State != nil {
			fmt.Printf("Last sync: %s (%s)\n", formatMillis(st.State.Time), st.State.Type)
		} else {
			fmt.Println("Last sync: never")
		}
		fmt.Printf("Local change: %s\n", formatMillis(st.LastModified))
		if st.LastWrite != nil {
			fmt.Printf("Last upload: %s (revision %d)\n", st.LastWrite.FileName, st.LastWrite.Revision)
		}
		if st.Lock != nil {
			fmt.Printf("%s locked by %s since %s\n", renderWarn("!"), st.Lock.Holder, formatMillis(st.Lock.Timestamp))
		}
		if st.Restoring {
			fmt.Printf("%s pull in progress\n", renderWarn("!"))
		}
		for _, d := range st.Downloads {
			fmt.Printf("Downloading: %s\n", d)
		}
		fmt.Printf("Snapshots: %d\n", st.Snapshots)
		return nil
	},
}

var backupsCmd = &cobra.Command{
	Use:     "backups",
	GroupID: "sync",
	Short:   "List remote backup files, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload struct {
			Directory string            `json:"directory"`
			Files     []webdav.FileInfo `json:"files"`
		}
		raw, err := call(cmd, "backups_list", nil, &payload)
		if err != nil {
			return err
		}
		if jsonOutput {
			fmt.Println(string(raw))
			return nil
		}
		if len(payload.Files) == 0 {
			fmt.Printf("no backups in /%s\n", payload.Directory)
			return nil
		}
		for _, f := range payload.Files {
			fmt.Printf("%s  %8d  %s\n", f.LastModified.Local().Format("2006-01-02 15:04:05"), f.Size, f.Name)
		}
		return nil
	},
}

var snapshotsCmd = &cobra.Command{
	Use:     "snapshots",
	GroupID: "sync",
	Short:   "List or restore local snapshots",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local snapshots, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload struct {
			Snapshots []struct {
				ID        string `json:"id"`
				Count     int    `json:"count"`
				Reason    string `json:"reason"`
				Timestamp int64  `json:"timestamp"`
			} `json:"snapshots"`
		}
		raw, err := call(cmd, "snapshot_list", nil, &payload)
		if err != nil {
			return err
		}
		if jsonOutput {
			fmt.Println(string(raw))
			return nil
		}
		if len(payload.Snapshots) == 0 {
			fmt.Println("no snapshots")
			return nil
		}
		for _, s := range payload.Snapshots {
			fmt.Printf("%s  %s  %5d bookmarks  %s\n", s.ID, formatMillis(s.Timestamp), s.Count, renderMuted(s.Reason))
		}
		return nil
	},
}

var snapshotsRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Replace the local tree with a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSyncCommand(cmd, "snapshot_restore", map[string]any{"id": args[0]})
	},
}

func init() {
	pullCmd.Flags().String("mode", "", "Pull mode: overwrite or merge (default from config)")
	snapshotsCmd.AddCommand(snapshotsListCmd, snapshotsRestoreCmd)
	rootCmd.AddCommand(pushCmd, pullCmd, syncCmd, statusCmd, backupsCmd, snapshotsCmd)
}

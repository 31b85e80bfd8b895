package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rexliu/davmark/pkg/bookmark"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Call the daemon ping endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		var data struct {
			Now int64 `json:"now"`
		}
		if _, err := call(cmd, "ping", nil, &data); err != nil {
			return err
		}
		fmt.Printf("daemon responded: now=%d\n", data.Now)
		return nil
	},
}

var treeCmd = &cobra.Command{
	Use:     "tree",
	GroupID: "tree",
	Short:   "Print the current bookmark tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload struct {
			Tree      json.RawMessage `json:"tree"`
			Bookmarks []bookmark.Node `json:"bookmarks"`
		}
		if _, err := call(cmd, "get_tree", map[string]any{}, &payload); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(payload.Tree)
		}
		for _, root := range payload.Bookmarks {
			printNode(root, 0)
		}
		return nil
	},
}

func printNode(n bookmark.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	if n.IsFolder() {
		title := n.Title
		if title == "" {
			title = "(root)"
		}
		fmt.Printf("%s%s %s\n", indent, renderAccent("▸"), title)
		for _, c := range n.Children {
			printNode(c, depth+1)
		}
		return
	}
	fmt.Printf("%s- %s %s\n", indent, n.Title, renderMuted(n.URL))
}

var applyCmd = &cobra.Command{
	Use:     "apply",
	GroupID: "tree",
	Short:   "Send an apply_ops payload (JSON) to the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		filePath, _ := cmd.Flags().GetString("file")
		inline, _ := cmd.Flags().GetString("ops")
		var payload []byte
		var err error
		switch {
		case filePath != "":
			payload, err = os.ReadFile(filePath)
		case inline != "":
			payload = []byte(inline)
		default:
			payload, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}
		payload = []byte(strings.TrimSpace(string(payload)))
		if len(payload) == 0 {
			return fmt.Errorf("empty apply_ops payload")
		}
		var data struct {
			Tree      json.RawMessage `json:"tree"`
			VCSStatus map[string]any  `json:"vcsStatus"`
		}
		if _, err := call(cmd, "apply_ops", json.RawMessage(payload), &data); err != nil {
			return err
		}
		return printJSON(data)
	},
}

var searchCmd = &cobra.Command{
	Use:     "search <query>",
	GroupID: "tree",
	Short:   "Find bookmarks whose title or URL contains the query",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		query := ""
		if len(args) == 1 {
			query = args[0]
		}
		var data struct {
			Matches []struct {
				ID    string  `json:"id"`
				Title string  `json:"title"`
				URL   *string `json:"url"`
				Kind  string  `json:"kind"`
			} `json:"matches"`
		}
		raw, err := call(cmd, "search", map[string]any{"query": query, "limit": limit}, &data)
		if err != nil {
			return err
		}
		if jsonOutput {
			fmt.Println(string(raw))
			return nil
		}
		for _, m := range data.Matches {
			url := ""
			if m.URL != nil {
				url = *m.URL
			}
			fmt.Printf("%s  %s %s\n", renderMuted(m.ID), m.Title, renderMuted(url))
		}
		return nil
	},
}

var vcsCmd = &cobra.Command{
	Use:   "vcs",
	Short: "Manage the local history journal",
}

var vcsPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push the history journal to its git remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		var data struct {
			Hash string `json:"hash"`
		}
		if _, err := call(cmd, "vcs_push", nil, &data); err != nil {
			return err
		}
		fmt.Printf("%s pushed %s\n", renderPass("✓"), data.Hash)
		return nil
	},
}

func init() {
	applyCmd.Flags().String("file", "", "Path to JSON payload (defaults to stdin)")
	applyCmd.Flags().String("ops", "", "Inline JSON payload")
	searchCmd.Flags().Int("limit", 50, "Maximum results (1-500)")
	vcsCmd.AddCommand(vcsPushCmd)
	rootCmd.AddCommand(pingCmd, treeCmd, applyCmd, searchCmd, vcsCmd)
}

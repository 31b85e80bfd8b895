package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rexliu/davmark/pkg/syncer"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func renderPass(s string) string   { return passStyle.Render(s) }
func renderWarn(s string) string   { return warnStyle.Render(s) }
func renderFail(s string) string   { return failStyle.Render(s) }
func renderAccent(s string) string { return accentStyle.Render(s) }
func renderMuted(s string) string  { return mutedStyle.Render(s) }

// actionMark picks the status glyph for a sync result.
func actionMark(res syncer.Result) string {
	switch {
	case !res.Success && res.Action == syncer.ActionConflict:
		return renderWarn("!")
	case !res.Success:
		return renderFail("✗")
	case res.Action == syncer.ActionSkipped:
		return renderMuted("=")
	default:
		return renderPass("✓")
	}
}

// formatResult renders a sync result as a short human readable block.
func formatResult(res syncer.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s\n", actionMark(res), res.Action, res.Message)
	if res.FileName != "" {
		fmt.Fprintf(&b, "   File: %s", res.FileName)
		if res.Revision > 1 {
			fmt.Fprintf(&b, " (revision %d)", res.Revision)
		}
		b.WriteString("\n")
	}
	if res.Stats != nil {
		fmt.Fprintf(&b, "   Created: %d  Skipped: %d  Failed: %d\n", res.Stats.Created, res.Stats.Skipped, res.Stats.Failed)
	}
	if r := res.Report; r != nil {
		fmt.Fprintf(&b, "   Local: %d bookmarks (%d only here)\n", r.LocalBookmarks, r.LocalOnly)
		fmt.Fprintf(&b, "   Remote: %d bookmarks (%d only there)", r.RemoteBookmarks, r.RemoteOnly)
		if r.RemoteFile != "" {
			fmt.Fprintf(&b, " in %s", r.RemoteFile)
		}
		b.WriteString("\n")
	}
	if res.NeedsResolution {
		fmt.Fprintf(&b, "   %s run 'davmark push' to keep local or 'davmark pull' to take remote\n", renderAccent("→"))
	}
	return b.String()
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

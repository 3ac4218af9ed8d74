package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"nodestrap/internal/launcher"
	"nodestrap/internal/nodeconf"

	"github.com/charmbracelet/lipgloss"
)

var (
	planTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	planKeyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Width(10)
	planBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// renderPlan prints what a real run would do.
func renderPlan(w io.Writer, plan *launcher.Plan) error {
	confPath := filepath.Join(plan.TempDir, nodeconf.FilePattern)
	if plan.TempDir == "" {
		confPath = filepath.Join("$TMPDIR", nodeconf.FilePattern)
	}

	row := func(key, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, planKeyStyle.Render(key), value)
	}

	command := plan.Binary + " " + strings.Join(plan.Arguments(confPath), " ")
	body := lipgloss.JoinVertical(lipgloss.Left,
		planTitleStyle.Render("nodestrap plan (dry run)"),
		"",
		row("binary", plan.Binary),
		row("datadir", plan.DataDir),
		row("config", confPath),
		row("command", command),
		"",
		planTitleStyle.Render("generated config"),
		strings.TrimRight(string(nodeconf.Render()), "\n"),
	)

	_, err := fmt.Fprintln(w, planBoxStyle.Render(body))
	return err
}

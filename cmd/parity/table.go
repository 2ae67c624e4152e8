package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/kalambet/parity/internal/api"
	"github.com/kalambet/parity/internal/reconcile"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	lockedStyle  = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.AdaptiveColor{Light: "245", Dark: "241"})
	driftStyle   = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.AdaptiveColor{Light: "136", Dark: "226"})
	errStyle     = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "196"})
)

const lockedLabel = "Locked"

func displayValue(v *string, unit string) string {
	if v == nil {
		return "?"
	}
	if unit == "" {
		return *v
	}
	return *v + unit
}

func stateLabel(it api.ItemView) string {
	if !it.Supported {
		return lockedLabel
	}
	if it.LastError != nil {
		return it.State + " (failed)"
	}
	if it.Drifted {
		return it.State + " *"
	}
	return it.State
}

// renderItems lays out one table per category. Locked, drifted and failed
// rows are highlighted unless color is off.
func renderItems(groups []api.GroupView) string {
	var b strings.Builder
	locked, drifted := false, false

	for i, g := range groups {
		if i > 0 {
			b.WriteString("\n")
		}
		heading := fmt.Sprintf("%s %s", g.Symbol, g.Name)
		if !noColor {
			heading = headingStyle.Render(heading)
		}
		b.WriteString(heading + "\n")

		rows := make([][]string, 0, len(g.Items))
		for _, it := range g.Items {
			rows = append(rows, []string{
				it.ID,
				stateLabel(it),
				displayValue(it.LiveValue, it.Unit),
				displayValue(it.CustomValue, it.Unit),
				it.PlatformDefault + it.Unit,
				it.ForeignDefault + it.Unit,
			})
			locked = locked || !it.Supported
			drifted = drifted || (it.Supported && it.Drifted)
		}

		items := g.Items
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderColumn(false).
			BorderRow(false).
			Headers("ITEM", "STATE", "LIVE", "CUSTOM", "PLATFORM", "FOREIGN").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if noColor {
					return cellStyle
				}
				if row == table.HeaderRow {
					return headerStyle
				}
				it := items[row]
				switch {
				case !it.Supported:
					return lockedStyle
				case it.LastError != nil && col == 1:
					return errStyle
				case it.Drifted && col == 1:
					return driftStyle
				}
				return cellStyle
			})
		b.WriteString(t.Render() + "\n")
	}

	if drifted {
		b.WriteString("\n* live value differs from the value the state stands for\n")
	}
	if locked {
		b.WriteString(fmt.Sprintf("\n%s: %s\n", lockedLabel, reconcile.UnsupportedReason))
	}
	return b.String()
}

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
	"github.com/joseph-ayodele/catalog-drafts/internal/stream"
)

// Catppuccin Mocha
const (
	colorRed      lipgloss.Color = "#f38ba8"
	colorPeach    lipgloss.Color = "#fab387"
	colorYellow   lipgloss.Color = "#f9e2af"
	colorGreen    lipgloss.Color = "#a6e3a1"
	colorTeal     lipgloss.Color = "#94e2d5"
	colorBlue     lipgloss.Color = "#89b4fa"
	colorLavender lipgloss.Color = "#b4befe"
	colorText     lipgloss.Color = "#cdd6f4"
	colorOverlay1 lipgloss.Color = "#7f849c"
	colorSurface2 lipgloss.Color = "#585b70"
)

var (
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSurface2).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Foreground(colorLavender).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(colorOverlay1).Width(12)
	valueStyle = lipgloss.NewStyle().Foreground(colorText)
	mutedStyle = lipgloss.NewStyle().Foreground(colorOverlay1).Italic(true)
	scoreStyle = lipgloss.NewStyle().Foreground(colorTeal)
)

func statusColor(s constants.DraftStatus) lipgloss.Color {
	switch s {
	case constants.DraftStatusNew:
		return colorBlue
	case constants.DraftStatusProcessing:
		return colorYellow
	case constants.DraftStatusReadyForReview:
		return colorPeach
	case constants.DraftStatusSynced:
		return colorGreen
	case constants.DraftStatusError:
		return colorRed
	}
	return colorText
}

func badge(s constants.DraftStatus) string {
	return lipgloss.NewStyle().Foreground(statusColor(s)).Bold(true).Render(string(s))
}

func row(label, value string) string {
	if value == "" {
		return ""
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(value))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// renderDraftCard draws the card a chat client would show for a draft widget.
func renderDraftCard(w stream.DraftWidget) string {
	d := w.Draft
	name := d.DisplayName()
	if name == "" {
		name = "untitled draft"
	}

	lines := []string{
		titleStyle.Render(name) + "  " + badge(d.Status),
		row("source", w.Meta.SourceLabel),
		row("brand", deref(d.FinalData.Brand)),
		row("article", deref(d.FinalData.Article)),
		row("type", deref(d.FinalData.Type)),
		row("kind", deref(d.FinalData.Kind)),
	}
	keys := make([]string, 0, len(d.FinalData.Specs))
	for k := range d.FinalData.Specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, row(k, fmt.Sprint(d.FinalData.Specs[k])))
	}
	if d.ErrorMessage != nil {
		lines = append(lines, lipgloss.NewStyle().Foreground(colorRed).Render(*d.ErrorMessage))
	}

	var actions []string
	if w.Meta.CanEdit {
		actions = append(actions, "edit")
	}
	if w.Meta.CanCommit {
		actions = append(actions, "commit")
	}
	if len(actions) > 0 {
		lines = append(lines, mutedStyle.Render("actions: "+strings.Join(actions, ", ")))
	}
	lines = append(lines, mutedStyle.Render(d.ID.String()))

	kept := lines[:0]
	for _, l := range lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	return cardStyle.Render(strings.Join(kept, "\n"))
}

// renderEvent turns one stream event into terminal output. Unknown widget
// kinds are shown as their raw payload.
func renderEvent(ev stream.Event) string {
	if ev.Type == stream.EventText {
		return ev.Text
	}
	w, err := stream.DecodeDraftWidget(ev)
	if err != nil {
		return "\n" + mutedStyle.Render(fmt.Sprintf("[%s widget] %s", ev.Kind, ev.Payload)) + "\n"
	}
	return "\n" + renderDraftCard(w) + "\n"
}

func renderMatches(matches []entity.AnalogMatch) string {
	if len(matches) == 0 {
		return mutedStyle.Render("no analogs found") + "\n"
	}
	var b strings.Builder
	for _, m := range matches {
		b.WriteString(scoreStyle.Render(fmt.Sprintf("%5.2f", m.Score)))
		b.WriteString("  ")
		b.WriteString(valueStyle.Render(m.Name))
		b.WriteString("  ")
		b.WriteString(mutedStyle.Render(m.RefKey))
		if m.MatchType != "" {
			b.WriteString(mutedStyle.Render(" (" + string(m.MatchType) + ")"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/roverlink/internal/app"
	"github.com/MrWong99/roverlink/internal/config"
)

var (
	summaryAccent = lipgloss.Color("#00ff9f")
	summaryDim    = lipgloss.Color("#6e7681")

	summaryBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(summaryAccent).
			Padding(0, 1)
	summaryTitle = lipgloss.NewStyle().Bold(true).Foreground(summaryAccent)
	summaryLabel = lipgloss.NewStyle().Bold(true).Width(14)
	summaryValue = lipgloss.NewStyle()
	summaryOff   = lipgloss.NewStyle().Foreground(summaryDim)
)

// printStartupSummary renders the settings an operator most often needs to
// confirm at a glance. providers is nil on a bridge.
func printStartupSummary(w io.Writer, cfg *config.Config, topology app.Topology, providers *app.Providers) {
	fmt.Fprintln(w, renderSummary(cfg, topology, providers))
}

func renderSummary(cfg *config.Config, topology app.Topology, providers *app.Providers) string {
	var rows []string
	row := func(label, value string) {
		v := summaryValue.Render(value)
		if value == "" {
			v = summaryOff.Render("(not configured)")
		}
		rows = append(rows, summaryLabel.Render(label)+v)
	}

	rows = append(rows, summaryTitle.Render("roverlink "+string(topology)))

	if providers != nil {
		row("STT", strings.Join(providers.Chains["stt"], " → "))
		row("LLM", strings.Join(providers.Chains["llm"], " → "))
		row("TTS", strings.Join(providers.Chains["tts"], " → "))
	}

	nc := cfg.Network
	switch topology {
	case app.Standalone:
		row("Serial", fmt.Sprintf("%s @ %d (%s)", cfg.Serial.Port, cfg.Serial.Baud, cfg.Serial.Format))
	case app.Brain:
		row("Audio in", ":"+strconv.Itoa(nc.AudioPort))
		row("Bridge", fmt.Sprintf("%s (cmd %d, tts %d)", nc.BridgeHost, nc.CommandPort, nc.TTSPort))
	case app.Bridge:
		row("Serial", fmt.Sprintf("%s @ %d (%s)", cfg.Serial.Port, cfg.Serial.Baud, cfg.Serial.Format))
		row("Brain", fmt.Sprintf("%s:%d", nc.BrainHost, nc.AudioPort))
		row("Listening", fmt.Sprintf("cmd %d, tts %d", nc.CommandPort, nc.TTSPort))
	}
	if topology != app.Brain {
		row("Safety", fmt.Sprintf("front ≥ %g cm, telemetry ≤ %s", cfg.Safety.MinFrontCM, cfg.Safety.FreshTimeout()))
	}
	row("Status", cfg.Server.ListenAddr)

	return summaryBox.Render(strings.Join(rows, "\n"))
}

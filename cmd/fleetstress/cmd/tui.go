package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fleetstress/fleetstress/lib/config"
	"github.com/fleetstress/fleetstress/lib/device"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Connect a fleet and watch per-device state in a live dashboard",
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg := config.FromViper()

	serverPEM := []byte(cfg.Server.ServerPubKeyPEM)
	if len(serverPEM) == 0 {
		return oops.Errorf("tui: server.pub_key_pem must be set")
	}
	server, err := device.LoadServerIdentity(serverPEM)
	if err != nil {
		return err
	}

	fleet, err := device.NewFleet(device.FleetOptions{
		Server:     server,
		Addr:       cfg.Server.Addr,
		Count:      cfg.Fleet.Count,
		DataDir:    cfg.Fleet.DataDir,
		ThrottleMS: cfg.Fleet.ThrottleMS,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	go fleet.Run(ctx, 0)

	m := newDashboardModel(fleet, cancel)
	p := tea.NewProgram(m)
	_, err = p.Run()
	cancel()
	return err
}

type tickMsg time.Time

type dashboardModel struct {
	fleet  *device.DeviceFleet
	cancel context.CancelFunc
}

func newDashboardModel(fleet *device.DeviceFleet, cancel context.CancelFunc) dashboardModel {
	return dashboardModel{fleet: fleet, cancel: cancel}
}

func (m dashboardModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.cancel()
			return m, tea.Quit
		}
	case tickMsg:
		return m, tickEvery()
	}
	return m, nil
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
	readyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	disconnectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func (m dashboardModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("fleetstress — %d/%d devices connected", m.fleet.ConnectedCount(), len(m.fleet.Sessions()))))
	b.WriteString("\n\n")
	for i, sess := range m.fleet.Sessions() {
		state := sess.State()
		line := fmt.Sprintf("%4d  %-24s  %s", i, sess.DeviceIDHex(), state.String())
		switch state {
		case device.StateReady:
			b.WriteString(readyStyle.Render(line))
		case device.StateDisconnected:
			b.WriteString(disconnectedStyle.Render(line))
		default:
			b.WriteString(pendingStyle.Render(line))
		}
		b.WriteString("\n")
	}
	b.WriteString("\npress q to quit\n")
	return b.String()
}

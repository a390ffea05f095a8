package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wujihand/wujihandgo/pkg/handler"
	"github.com/wujihand/wujihandgo/pkg/pdoengine"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI of joint positions, efforts and fault state over the PDO realtime loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandler()
		if err != nil {
			return err
		}
		defer h.Close()

		controller := pdoengine.NewPassthroughController()
		if err := h.AttachRealtimeController(controller, true); err != nil {
			return fmt.Errorf("attach realtime controller: %w", err)
		}
		defer h.DetachRealtimeController()

		_, err = tea.NewProgram(newMonitorModel(h)).Run()
		return err
	},
}

var fingerNames = [5]string{"thumb", "index", "middle", "ring", "pinky"}

type monitorTickMsg time.Time

type monitorModel struct {
	h     *handler.Handler
	table table.Model
}

func newMonitorModel(h *handler.Handler) monitorModel {
	columns := []table.Column{
		{Title: "finger", Width: 8},
		{Title: "j0(rad)", Width: 9},
		{Title: "j1(rad)", Width: 9},
		{Title: "j2(rad)", Width: 9},
		{Title: "j3(rad)", Width: 9},
		{Title: "effort(A)", Width: 10},
		{Title: "faults", Width: 12},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(len(fingerNames)),
	)
	t.SetStyles(table.Styles{
		Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Cell:   lipgloss.NewStyle(),
	})
	return monitorModel{h: h, table: t}
}

func monitorTick() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(t time.Time) tea.Msg { return monitorTickMsg(t) })
}

func (m monitorModel) Init() tea.Cmd {
	return monitorTick()
}

var (
	faultStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func (m *monitorModel) refreshRows() {
	rows := make([]table.Row, 0, len(fingerNames))
	for finger := 0; finger < 5; finger++ {
		var faultBits uint32
		joints := make([]string, 4)
		for joint := 0; joint < 4; joint++ {
			joints[joint] = fmt.Sprintf("%7.3f", m.h.RealtimeGetJointPosition(finger, joint))
			faultBits |= m.h.RealtimeGetJointErrorCode(finger, joint)
		}
		effort := fmt.Sprintf("%7.3f", m.h.RealtimeGetJointActualEffort(finger, 0))
		faults := okStyle.Render("ok")
		if faultBits != 0 {
			faults = faultStyle.Render(fmt.Sprintf("0x%08X", faultBits))
		}
		rows = append(rows, table.Row{fingerNames[finger], joints[0], joints[1], joints[2], joints[3], effort, faults})
	}
	m.table.SetRows(rows)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case monitorTickMsg:
		m.refreshRows()
		return m, monitorTick()
	}
	return m, nil
}

func (m monitorModel) View() string {
	return m.table.View() + "\nq to quit\n"
}

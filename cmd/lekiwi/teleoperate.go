package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/lekiwi/pkg/robot"
	"github.com/gwillem/lekiwi/pkg/teleop"
)

type TeleoperateCommand struct {
	Hz       int     `long:"hz" default:"60" description:"Control loop frequency"`
	LinSpeed float64 `long:"lin-speed" default:"0.2" description:"Linear speed per key (m/s)"`
	AngSpeed float64 `long:"ang-speed" default:"80" description:"Angular speed per key (deg/s)"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Chart series names and colors.
const (
	seriesX      = "x (m/s)"
	seriesY      = "y (m/s)"
	seriesTheta  = "theta (deg/s)"
	seriesHeight = "lift (dm)"
)

var seriesColors = map[string]string{
	seriesX:      "196", // red
	seriesY:      "226", // yellow
	seriesTheta:  "46",  // green
	seriesHeight: "51",  // cyan
}

var seriesOrder = []string{seriesX, seriesY, seriesTheta, seriesHeight}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type teleopModel struct {
	ctrl     *teleop.Controller
	lin      float64
	ang      float64
	chart    *streamlinechart.Model
	width    int // terminal width
	height   int // terminal height
	logs     []string
	quitting bool

	// current drive intent, toggled by keys
	vx, vy, vtheta float64
	heightMM       float64
}

func (m *teleopModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the controller
type stateMsg teleop.State
type logMsg string

func waitForState(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *teleopModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *teleopModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialTeleopModel(ctrl *teleop.Controller, lin, ang float64) teleopModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-100, 100),
	)

	for _, name := range seriesOrder {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name]))
		chart.SetDataSetStyles(name, runes.ThinLineStyle, style)
	}

	return teleopModel{
		ctrl:  ctrl,
		lin:   lin,
		ang:   ang,
		chart: &chart,
	}
}

func (m teleopModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

// pushDrive forwards the current intent to the controller. Every call
// also feeds the command watchdog.
func (m *teleopModel) pushDrive() {
	m.ctrl.SetDrive(m.vx, m.vy, m.vtheta)
}

func (m teleopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.ctrl.StopAll()
			return m, tea.Quit
		case "w":
			m.vx = toggleAxis(m.vx, m.lin)
			m.pushDrive()
		case "s":
			m.vx = toggleAxis(m.vx, -m.lin)
			m.pushDrive()
		case "a":
			m.vy = toggleAxis(m.vy, m.lin)
			m.pushDrive()
		case "d":
			m.vy = toggleAxis(m.vy, -m.lin)
			m.pushDrive()
		case "z":
			m.vtheta = toggleAxis(m.vtheta, m.ang)
			m.pushDrive()
		case "x":
			m.vtheta = toggleAxis(m.vtheta, -m.ang)
			m.pushDrive()
		case "r":
			m.ctrl.NudgeLift(10)
		case "f":
			m.ctrl.NudgeLift(-10)
		case " ":
			m.vx, m.vy, m.vtheta = 0, 0, 0
			m.ctrl.StopAll()
		}

	case stateMsg:
		// Re-send the standing intent every cycle so the controller
		// sees a command stream; if the UI wedges the stream dries up
		// and the watchdog stops the base.
		m.pushDrive()
		state := teleop.State(msg)
		if state.Error == nil {
			m.heightMM = state.HeightMM
			m.chart.PushDataSet(seriesX, state.X*100)      // cm/s so it shares the scale
			m.chart.PushDataSet(seriesY, state.Y*100)
			m.chart.PushDataSet(seriesTheta, state.Theta)
			m.chart.PushDataSet(seriesHeight, state.HeightMM/10)
			m.chart.DrawAll()
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

// toggleAxis implements press-again-to-stop: commanding the same
// direction twice stops the axis, the opposite direction reverses it.
func toggleAxis(current, step float64) float64 {
	if current == step {
		return 0
	}
	return step
}

func (m teleopModel) View() string {
	if m.quitting {
		return "Teleoperation stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("LeKiwi Teleoperate"))
	sb.WriteString(fmt.Sprintf(" - %d Hz - lift %.0f mm", m.ctrl.Hz(), m.heightMM))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4).
		Foreground(lipgloss.Color("9")) // bright red

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("w/s drive  a/d strafe  z/x rotate  r/f lift  space stop  q quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, name := range seriesOrder {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+name)
	}
	return strings.Join(items, "  ")
}

func (c *TeleoperateCommand) Execute(args []string) error {
	cfg, err := robot.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'lekiwi setup' first.")
		os.Exit(1)
	}
	if !cfg.IsConfigured() {
		fmt.Fprintln(os.Stderr, "No port configured. Run 'lekiwi setup' first.")
		os.Exit(1)
	}

	fmt.Printf("Loaded configuration from %s\n", robot.DefaultConfigFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := robot.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer r.Disconnect(context.Background())

	ctrl := teleop.NewController(r, teleop.Config{
		Hz:              c.Hz,
		WatchdogTimeout: 500 * time.Millisecond,
	})

	go func() {
		if err := ctrl.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Controller error: %v", err)
		}
	}()

	p := tea.NewProgram(initialTeleopModel(ctrl, c.LinSpeed, c.AngSpeed), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}

	return nil
}

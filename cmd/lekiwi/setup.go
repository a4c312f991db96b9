package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/gwillem/lekiwi/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type SetupCommand struct{}

// Servo IDs of the LeKiwi base: wheels 8-10, lift 11.
const (
	scanFirstID = 8
	scanLastID  = 11
)

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("LeKiwi Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━"))
	fmt.Println()

	bases := findBases()
	if len(bases) == 0 {
		fmt.Println("No LeKiwi base found.")
		fmt.Println("Make sure the robot is connected and powered on.")
		os.Exit(1)
	}

	selected := bases[0]
	if len(bases) > 1 {
		selected = chooseBase(bases)
	}

	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Servos found ━━━"))
	fmt.Println(renderServoTable(selected))
	fmt.Println()

	config := robot.DefaultConfig()
	config.Port = selected.port
	config.Lift.Enabled = selected.hasLift

	if !selected.hasLift {
		fmt.Println("No lift servo (ID 11) found; lift axis disabled in config.")
	}

	if err := config.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", robot.DefaultConfigFile)
	fmt.Println()
	if selected.hasLift {
		fmt.Println("Home the lift axis with:   " + headerStyle.Render("lekiwi home"))
	}
	fmt.Println("Start teleoperation with:  " + headerStyle.Render("lekiwi teleoperate"))

	return nil
}

type baseInfo struct {
	port    string
	servos  []feetech.FoundServo
	hasLift bool
}

// findBases scans every serial port for the LeKiwi servo IDs.
func findBases() []baseInfo {
	fmt.Println("Scanning for the LeKiwi base...")
	fmt.Println()

	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	var bases []baseInfo

	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)

		fbus, err := feetech.NewBus(feetech.BusConfig{
			Port:     port,
			BaudRate: 1_000_000,
			Protocol: feetech.ProtocolSTS,
			Timeout:  100 * time.Millisecond,
		})
		if err != nil {
			cancel()
			continue
		}

		servos, err := fbus.Scan(ctx, scanFirstID, scanLastID)
		cancel()
		fbus.Close()

		if err != nil {
			continue
		}

		if info, ok := classifyBase(port, servos); ok {
			fmt.Printf("  Found LeKiwi base on %s\n", port)
			bases = append(bases, info)
		}
	}

	return bases
}

// classifyBase accepts a port holding all three wheel servos; the lift
// servo is optional.
func classifyBase(port string, servos []feetech.FoundServo) (baseInfo, bool) {
	ids := make(map[int]bool)
	for _, s := range servos {
		ids[s.ID] = true
	}
	if !ids[8] || !ids[9] || !ids[10] {
		return baseInfo{}, false
	}
	return baseInfo{
		port:    port,
		servos:  servos,
		hasLift: ids[11],
	}, true
}

func chooseBase(bases []baseInfo) baseInfo {
	options := make([]huh.Option[string], 0, len(bases))
	for _, b := range bases {
		label := fmt.Sprintf("%s (%d servos)", b.port, len(b.servos))
		options = append(options, huh.NewOption(label, b.port))
	}

	var port string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Multiple candidate ports found").
				Description("Which port is the LeKiwi base?").
				Options(options...).
				Value(&port),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	for _, b := range bases {
		if b.port == port {
			return b
		}
	}
	return bases[0]
}

func renderServoTable(info baseInfo) string {
	roles := map[int]string{
		8:  "left_wheel",
		9:  "back_wheel",
		10: "right_wheel",
		11: "lift_axis",
	}

	headerCellStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	rows := make([][]string, 0, len(info.servos))
	for _, s := range info.servos {
		rows = append(rows, []string{
			fmt.Sprintf("%d", s.ID),
			s.Model.Name,
			roles[s.ID],
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "Model", "Role").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCellStyle
			}
			return cellStyle
		})

	return t.Render()
}

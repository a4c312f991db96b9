package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gwillem/lekiwi/pkg/robot"
)

type HomeCommand struct {
	NoCurrent bool `long:"no-current" description:"Detect the hard stop by movement only, ignore motor current"`
}

func (c *HomeCommand) Execute(args []string) error {
	cfg, err := robot.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'lekiwi setup' first.")
		os.Exit(1)
	}
	if !cfg.IsConfigured() {
		fmt.Fprintln(os.Stderr, "No port configured. Run 'lekiwi setup' first.")
		os.Exit(1)
	}
	if !cfg.Lift.Enabled {
		fmt.Fprintln(os.Stderr, "Lift axis is disabled in the configuration.")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r, err := robot.Connect(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connect: %v\n", err)
		os.Exit(1)
	}
	defer r.Disconnect(context.Background())

	fmt.Println(headerStyle.Render("Homing lift axis"))
	fmt.Println("Driving down to the hard stop, this can take up to 30 seconds...")

	start := time.Now()
	result, err := r.Lift().Home(ctx, !c.NoCurrent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Homing failed: %v\n", err)
		os.Exit(1)
	}

	elapsed := time.Since(start).Round(100 * time.Millisecond)
	if result.Stalled {
		fmt.Println(successStyle.Render("Hard stop found."))
		fmt.Printf("Stalled after %d samples (%s), height zeroed at %.1f mm\n",
			result.Iterations, elapsed, result.HeightMM)
	} else {
		fmt.Println("No stall detected within the homing budget.")
		fmt.Printf("Height was zeroed anyway at the final position (%.1f mm after %s).\n",
			result.HeightMM, elapsed)
		fmt.Println("Check that the axis can actually reach its lower hard stop.")
	}

	return nil
}

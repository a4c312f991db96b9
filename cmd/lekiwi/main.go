package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Setup       SetupCommand       `command:"setup" description:"Scan for the LeKiwi base and save its configuration"`
	Home        HomeCommand        `command:"home" description:"Run the lift axis homing sequence (establishes height zero)"`
	Teleoperate TeleoperateCommand `command:"teleoperate" alias:"teleop" description:"Drive the base and lift from the keyboard"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "LeKiwi - mobile base and lift axis control CLI for the AlohaMini robot"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

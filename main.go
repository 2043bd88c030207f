package main

import (
	"DeckPilot/cmd"

	// MIDI output through the system's rtmidi backend.
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

func main() {
	cmd.Execute()
}

package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"DeckPilot/core/device"
	"DeckPilot/core/navigation"
	"DeckPilot/core/timing"
	"DeckPilot/model"

	"github.com/spf13/cobra"
)

var (
	selfcheckGround bool
	selfcheckShow   bool
)

var selfcheckCmd = &cobra.Command{
	Use:   "selfcheck",
	Short: "Verify the control map and the MIDI port",
	Long: `Verify that the control map names every control the performer drives,
that none uses toggle semantics and that no two share a MIDI address, then
open the output port. With --ground the browser is collapsed and grounded
once, which should leave the cursor on the first root entry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		controls, err := device.LoadControlMap(cfg.MIDIMapping)
		if err != nil {
			return err
		}
		source := cfg.MIDIMapping
		if source == "" {
			source = "built-in preset"
		}
		fmt.Printf("control map: %s (%d controls)\n", source, len(controls))
		if selfcheckShow {
			printControls(controls)
		}
		if err := controls.SelfCheck(device.RequiredControls(model.DeckA, model.DeckB)); err != nil {
			return fmt.Errorf("control map self-check: %w", err)
		}
		fmt.Println("control map self-check passed")

		out, err := device.OpenMIDI(cfg.MIDIPort)
		if err != nil {
			fmt.Printf("available output ports: %v\n", device.OutputPorts())
			return err
		}
		defer device.CloseDriver()
		fmt.Printf("MIDI port opened: %s\n", out.String())

		if !selfcheckGround {
			return nil
		}
		link := device.NewLink(out, controls)
		defer link.Close()
		nav := navigation.New(link, timing.Real(), navigationConfig(cfg))
		if err := nav.ResetAndGround(cmd.Context()); err != nil {
			return fmt.Errorf("ground browser: %w", err)
		}
		fmt.Printf("browser grounded, %d messages sent\n", link.Sent())
		return nil
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List MIDI output ports",
	Run: func(cmd *cobra.Command, args []string) {
		defer device.CloseDriver()
		ports := device.OutputPorts()
		if len(ports) == 0 {
			fmt.Println("no MIDI output ports available")
			return
		}
		for i, p := range ports {
			fmt.Printf("%2d  %s\n", i, p)
		}
	},
}

func printControls(controls device.ControlMap) {
	names := make([]string, 0, len(controls))
	for name := range controls {
		names = append(names, name)
	}
	sort.Strings(names)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONTROL\tCHANNEL\tCC\tSEMANTICS")
	for _, name := range names {
		c := controls[name]
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", name, c.Channel, c.CC, c.Semantics)
	}
	w.Flush()
}

func init() {
	selfcheckCmd.Flags().BoolVar(&selfcheckGround, "ground", false, "collapse and ground the browser after opening the port")
	selfcheckCmd.Flags().BoolVar(&selfcheckShow, "show", false, "print the control map")
	rootCmd.AddCommand(selfcheckCmd, portsCmd)
}

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"go-remi/midi"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "list":
		listPorts()
	case "note":
		testNote(os.Args[2:])
	case "keys":
		echoKeys(os.Args[2:])
	case "poll":
		pollDevices()
	default:
		usage()
	}
}

func usage() {
	fmt.Println("MIDI Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list               - List all MIDI ports")
	fmt.Println("  note [PORT] [NOTE] - Play a note (default C4) on an output")
	fmt.Println("  keys [PORT]        - Print notes played on a keyboard")
	fmt.Println("  poll               - Poll for device changes")
}

func listPorts() {
	fmt.Println("=== MIDI Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	ports, err := midi.ScanPorts(midi.ScanTimeout)
	if err != nil {
		fmt.Println("\nTIMEOUT! CoreMIDI is hung.")
		fmt.Println("Fix: sudo killall coreaudiod midiserver")
		return
	}
	fmt.Println("Inputs:")
	for i, p := range ports.Ins {
		fmt.Printf("  %d: %s\n", i, p.String())
	}
	fmt.Println("\nOutputs:")
	for i, p := range ports.Outs {
		fmt.Printf("  %d: %s\n", i, p.String())
	}
}

func testNote(args []string) {
	port, name := "", "C4"
	if len(args) > 0 {
		port = args[0]
	}
	if len(args) > 1 {
		name = args[1]
	}
	pitch, err := midi.NameToNumber(name)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	out, err := midi.OpenOutput(port)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer out.Close()

	fmt.Printf("Playing %s (%d) on %s\n", pitch, pitch, out.Name())
	if err := out.NoteOn(0, pitch, 100); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	time.Sleep(time.Second)
	out.ReleaseAll()
	fmt.Println("Done!")
}

func echoKeys(args []string) {
	port := ""
	if len(args) > 0 {
		port = args[0]
	}
	ports, err := midi.ScanPorts(midi.ScanTimeout)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	in, err := ports.FindIn(port)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	kb, err := midi.NewKeyboardController(in.String(), in)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer kb.Close()

	fmt.Printf("Listening on %s. Ctrl+C to exit.\n", in.String())
	for ev := range kb.NoteEvents() {
		state := "off"
		if ev.On {
			state = "on "
		}
		fmt.Printf("  %s %-4s vel %3d ch %d\n", state, ev.Note, ev.Velocity, ev.Channel)
	}
}

func pollDevices() {
	fmt.Println("Polling for device changes every 2 seconds...")
	fmt.Println("Connect/disconnect a keyboard to test. Ctrl+C to exit.")

	lastIn := ""
	lastOut := ""

	for {
		ports, err := midi.ScanPorts(midi.ScanTimeout)
		if err != nil {
			fmt.Printf("[%s] %v\n", time.Now().Format("15:04:05"), err)
			time.Sleep(2 * time.Second)
			continue
		}

		var inNames, outNames []string
		for _, p := range ports.Ins {
			inNames = append(inNames, p.String())
		}
		for _, p := range ports.Outs {
			outNames = append(outNames, p.String())
		}

		currentIn := strings.Join(inNames, ",")
		currentOut := strings.Join(outNames, ",")

		if currentIn != lastIn || currentOut != lastOut {
			fmt.Printf("\n[%s] Device change detected!\n", time.Now().Format("15:04:05"))
			fmt.Printf("  Inputs: %v\n", inNames)
			fmt.Printf("  Outputs: %v\n", outNames)

			lastIn = currentIn
			lastOut = currentOut
		}

		time.Sleep(2 * time.Second)
	}
}

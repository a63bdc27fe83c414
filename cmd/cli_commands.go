package cmd

import (
	"fmt"
	"io"
	"strings"
)

// cliCommand is a command the client handles itself instead of sending it
// to the server.
type cliCommand struct {
	name    string
	args    string
	summary string
	argc    int
}

var cliCommands = []cliCommand{
	{name: "connect", args: "<host> <port>", summary: "Connect to another server.", argc: 3},
	{name: "clear", summary: "Clear the screen.", argc: 1},
	{name: "help", summary: "Show this help.", argc: 1},
	{name: "quit", summary: "Leave the client.", argc: 1},
	{name: "exit", summary: "Leave the client.", argc: 1},
}

// lookupCommand matches argv[0] case-insensitively and only when the
// argument count fits.
func lookupCommand(argv []string) (cliCommand, bool) {
	if len(argv) == 0 {
		return cliCommand{}, false
	}
	for _, c := range cliCommands {
		if strings.EqualFold(argv[0], c.name) && len(argv) == c.argc {
			return c, true
		}
	}
	return cliCommand{}, false
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "Every other line is sent to the server and its echo is printed.")
	for _, c := range cliCommands {
		fmt.Fprintf(w, "  %-8s %-14s %s\n", c.name, c.args, c.summary)
	}
}

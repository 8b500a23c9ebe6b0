package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// colorEnabled reports whether stdout is a terminal.
func colorEnabled() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func colored(code, tag string) string {
	if !colorEnabled() {
		return tag
	}
	return code + tag + "\033[0m"
}

// Print helper functions for consistent output formatting.
func printSuccess(msg string) {
	fmt.Printf("%s %s\n", colored("\033[0;32m", "[OK]"), msg)
}

func printWarn(msg string) {
	fmt.Printf("%s %s\n", colored("\033[1;33m", "[WARN]"), msg)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", colored("\033[0;31m", "[ERROR]"), msg)
}

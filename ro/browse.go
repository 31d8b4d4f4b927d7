package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// browse pages through the rendered contracts and events. Left/right arrows
// (or p/n) move, q or Enter leaves.
func browse(pages []string) {
	if len(pages) == 0 {
		return
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting raw mode: %v\r\n", err)
		return
	}
	defer term.Restore(fd, oldState)

	current := 0
	drawn := 0
	draw := func() {
		if drawn > 0 {
			fmt.Printf("\033[%dA", drawn)
		}
		lines := renderPage(pages, current)
		for _, l := range lines {
			fmt.Print("\033[2K\r")
			fmt.Printf("%s\r\n", l)
		}
		// Clear whatever the previous, taller page left behind.
		for i := len(lines); i < drawn; i++ {
			fmt.Print("\033[2K\r\n")
		}
		if drawn > len(lines) {
			fmt.Printf("\033[%dA", drawn-len(lines))
		}
		drawn = len(lines)
	}

	fmt.Print("\r\n")
	draw()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return
		}
		next := current
		switch {
		case n == 1 && (buf[0] == 'q' || buf[0] == 0x03 || buf[0] == 0x0D || buf[0] == 0x0A):
			return
		case n == 1 && buf[0] == 'n', n == 3 && buf[0] == 0x1B && buf[1] == '[' && buf[2] == 'C':
			next = min(current+1, len(pages)-1)
		case n == 1 && buf[0] == 'p', n == 3 && buf[0] == 0x1B && buf[1] == '[' && buf[2] == 'D':
			next = max(current-1, 0)
		}
		if next != current {
			current = next
			draw()
		}
	}
}

func renderPage(pages []string, i int) []string {
	lines := []string{fmt.Sprintf("-- %d/%d -- (</> to move, q to quit)", i+1, len(pages))}
	return append(lines, strings.Split(pages[i], "\n")...)
}

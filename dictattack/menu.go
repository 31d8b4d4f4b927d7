package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

type keyRole struct {
	index byte
	name  string
}

// Key indexes of a transport application.
var keyRoles = []keyRole{
	{0x01, "issuer"},
	{0x02, "load"},
	{0x03, "debit"},
}

func roleName(index byte) string {
	for _, r := range keyRoles {
		if r.index == index {
			return r.name
		}
	}
	return "unknown"
}

// selectMenu draws items and lets the operator move with the arrow keys (or
// j/k) and pick with Enter. Returns -1 on q or when stdin is not a terminal.
func selectMenu(prompt string, items []string, initial int) int {
	if len(items) == 0 {
		return -1
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return -1
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting raw mode: %v\r\n", err)
		return -1
	}
	defer term.Restore(fd, oldState)

	selected := initial
	if selected < 0 || selected >= len(items) {
		selected = 0
	}

	draw := func() {
		for i, item := range items {
			fmt.Print("\033[2K\r")
			if i == selected {
				fmt.Printf("> %s\r\n", item)
			} else {
				fmt.Printf("  %s\r\n", item)
			}
		}
	}

	fmt.Printf("%s\r\n", prompt)
	draw()

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return -1
		}

		moved := false
		switch {
		case n == 1 && (buf[0] == 0x0D || buf[0] == 0x0A):
			fmt.Printf("\r\n")
			return selected
		case n == 1 && (buf[0] == 0x03 || buf[0] == 'q'):
			fmt.Printf("\r\n")
			return -1
		case n == 1 && buf[0] == 'k', n == 3 && buf[0] == 0x1B && buf[1] == '[' && buf[2] == 'A':
			if selected > 0 {
				selected--
				moved = true
			}
		case n == 1 && buf[0] == 'j', n == 3 && buf[0] == 0x1B && buf[1] == '[' && buf[2] == 'B':
			if selected < len(items)-1 {
				selected++
				moved = true
			}
		}

		if moved {
			fmt.Printf("\033[%dA", len(items))
			draw()
		}
	}
}

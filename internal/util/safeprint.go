package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// SafePrinter serializes console output from concurrent goroutines so log
// lines from the tail and the ad-hoc command never interleave mid-line.
type SafePrinter struct {
	mu        sync.Mutex
	out       io.Writer
	suspended bool
}

// Default is the shared SafePrinter used by the CLI.
var Default = NewSafePrinter(os.Stdout)

func NewSafePrinter(w io.Writer) *SafePrinter {
	return &SafePrinter{out: w}
}

func (s *SafePrinter) Print(a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	fmt.Fprint(s.out, a...)
}

func (s *SafePrinter) Printf(format string, a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	fmt.Fprintf(s.out, format, a...)
}

func (s *SafePrinter) Println(a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	fmt.Fprintln(s.out, a...)
}

// PrintBlock prints a potentially multi-line block atomically. If clearLine is true
// it will first clear the current line (useful to overwrite a status line) and then
// print the block exactly as provided.
func (s *SafePrinter) PrintBlock(block string, clearLine bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	if clearLine {
		fmt.Fprint(s.out, "\r\x1b[K")
	}
	fmt.Fprint(s.out, block)
	if !strings.HasSuffix(block, "\n") {
		fmt.Fprint(s.out, "\n")
	}
}

// ClearLine clears the current line and returns the cursor to the beginning.
func (s *SafePrinter) ClearLine() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	fmt.Fprint(s.out, "\r\x1b[K")
}

// Suspend silences all subsequent prints until Resume is called.
// Interactive prompts call it while they own the terminal.
func (s *SafePrinter) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = true
}

// Resume re-enables printing after Suspend.
func (s *SafePrinter) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = false
}

package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/mediasessions/mediahub/lib/observer"
	"github.com/mediasessions/mediahub/lib/session"
)

// snapshotPump forwards coordinator pushes into the bubbletea loop. Pushes
// arriving before the program is attached are dropped; the next broadcast
// replaces the whole list anyway.
type snapshotPump struct {
	mu      sync.Mutex
	program *tea.Program
}

func (p *snapshotPump) attach(program *tea.Program) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.program = program
}

func (p *snapshotPump) push(sessions []session.Session) {
	p.mu.Lock()
	program := p.program
	p.mu.Unlock()
	if program != nil {
		program.Send(snapshotMsg{sessions: sessions})
	}
}

func main() {
	url := flag.String("url", "ws://localhost:10800/ws/observer", "coordinator observer channel URL")
	retryDelay := flag.Duration("retry-delay", observer.DefaultRetryDelay, "reconnect delay after a channel drop")
	flag.Parse()

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "mediawatch needs an interactive terminal")
		os.Exit(1)
	}

	// The TUI owns the terminal; logs would tear the frame.
	slogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pump := &snapshotPump{}
	obs := observer.New(*url, observer.Options{
		RetryDelay: *retryDelay,
		OnSnapshot: pump.push,
	}, slogger)
	defer obs.Close()

	program := tea.NewProgram(newModel(obs, *url), tea.WithAltScreen())
	pump.attach(program)

	if _, err := program.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "mediawatch:", err)
		os.Exit(1)
	}
}

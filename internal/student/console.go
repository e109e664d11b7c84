package student

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/ashureev/tutormesh/internal/domain"
)

// Console renders output entries for a terminal user and reads their input.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	ack      *color.Color
	question *color.Color
	feedback *color.Color
	failure  *color.Color
	muted    *color.Color
}

// NewConsole writes to out. Colors are enabled only when out is a terminal.
func NewConsole(out io.Writer) *Console {
	c := &Console{
		out:      out,
		ack:      color.New(color.FgHiBlack),
		question: color.New(color.FgCyan, color.Bold),
		feedback: color.New(color.FgGreen),
		failure:  color.New(color.FgRed, color.Bold),
		muted:    color.New(color.Faint),
	}
	enable := false
	if f, ok := out.(*os.File); ok {
		enable = IsTerminal(f)
	}
	for _, col := range []*color.Color{c.ack, c.question, c.feedback, c.failure, c.muted} {
		if enable {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Menu prints the subject menu and shortcuts.
func (c *Console) Menu() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.question.Fprintln(c.out, "Choose a subject:")
	for i, s := range domain.Subjects {
		fmt.Fprintf(c.out, "  [%d] %s\n", i+1, s)
	}
	c.muted.Fprintln(c.out, "  [0] history   [A] assess my learning challenges   Subject:Level for a direct lesson")
}

// Print renders one entry.
func (c *Console) Print(e domain.OutputEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch e.Kind {
	case domain.EntryAck:
		c.ack.Fprintf(c.out, "> %s\n", e.Text)
	case domain.EntryQuestion:
		c.question.Fprintln(c.out, e.Text)
	case domain.EntryFeedback:
		if e.Correct != nil && !*e.Correct {
			c.failure.Fprintln(c.out, e.Text)
		} else {
			c.feedback.Fprintln(c.out, e.Text)
		}
	case domain.EntryError:
		c.failure.Fprintf(c.out, "Error: %s\n", e.Text)
	default:
		fmt.Fprintln(c.out, e.Text)
	}
}

// SubmitFunc hands one line of input to the student agent.
type SubmitFunc func(studentID, text, correlationID string) error

// ReadLoop reads lines from in and submits them for studentID until in is
// exhausted or ctx is cancelled.
func (c *Console) ReadLoop(ctx context.Context, in io.Reader, studentID string, submit SubmitFunc) error {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- scanner.Err()
	}()

	c.Menu()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := submit(studentID, line, uuid.NewString()); err != nil {
				c.Print(domain.OutputEntry{Kind: domain.EntryError, Text: err.Error()})
			}
		}
	}
}

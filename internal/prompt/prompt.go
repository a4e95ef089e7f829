package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// ErrDeclined is returned when the operator answers "no" to a question the
// benchmark cannot proceed without.
var ErrDeclined = errors.New("declined by user")

// Confirmer answers yes/no questions. The benchmark core never touches the
// console directly; it asks a Confirmer.
type Confirmer interface {
	Confirm(question string) bool
}

var choices = color.New(color.FgHiYellow).Sprint("[Y/N]")

// Terminal asks questions on Out and reads answers line by line from In.
// Anything other than "y" or "yes" (case-insensitive) counts as no, as does EOF.
type Terminal struct {
	In  io.Reader
	Out io.Writer

	mu     sync.Mutex
	reader *bufio.Reader
}

// NewTerminal returns a Terminal bound to stdin/stdout.
func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stdout}
}

func (t *Terminal) Confirm(question string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.reader == nil {
		t.reader = bufio.NewReader(t.In)
	}

	fmt.Fprintf(t.Out, "%s %s ", question, choices)
	line, err := t.reader.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(t.Out)
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// AssumeYes answers yes to everything. Used for --yes and non-interactive callers.
type AssumeYes struct{}

func (AssumeYes) Confirm(string) bool { return true }

// Scripted replays a fixed list of answers and records every question asked.
// Once the answers run out it keeps answering Default.
type Scripted struct {
	Answers []bool
	Default bool

	mu    sync.Mutex
	asked []string
}

func (s *Scripted) Confirm(question string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.asked = append(s.asked, question)
	if len(s.Answers) == 0 {
		return s.Default
	}
	answer := s.Answers[0]
	s.Answers = s.Answers[1:]
	return answer
}

// Asked returns the questions seen so far, in order.
func (s *Scripted) Asked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.asked...)
}

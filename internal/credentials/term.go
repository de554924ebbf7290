package credentials

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// TermPrompter asks on a plain line-oriented terminal. Input is hidden
// when in is a terminal.
type TermPrompter struct {
	in     io.Reader
	out    io.Writer
	reader *bufio.Reader
}

// NewTermPrompter creates a prompter reading from in and writing to out.
func NewTermPrompter(in io.Reader, out io.Writer) *TermPrompter {
	return &TermPrompter{in: in, out: out, reader: bufio.NewReader(in)}
}

// Prompt writes the question and reads one line.
func (p *TermPrompter) Prompt(ctx context.Context, req Request) (string, error) {
	if req.LastError != nil {
		fmt.Fprintf(p.out, "Connection failed: %v\n", req.LastError)
	}
	fmt.Fprintf(p.out, "Enter the %s connection string for the %s (%s): ", req.Engine, req.Side, req.EnvVar)

	type answer struct {
		line string
		err  error
	}
	done := make(chan answer, 1)
	go func() {
		line, err := p.readLine()
		done <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return "", ctx.Err()
	case a := <-done:
		if a.err == io.EOF && a.line == "" {
			return "", ErrPromptCancelled
		}
		if a.err != nil && a.err != io.EOF {
			return "", fmt.Errorf("reading connection string: %w", a.err)
		}
		return strings.TrimSpace(a.line), nil
	}
}

func (p *TermPrompter) readLine() (string, error) {
	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.out)
		return string(b), err
	}
	return p.reader.ReadString('\n')
}

// Interactive picks a prompter for the process's standard streams: the
// form when both are terminals, line prompts when only stdin is, and nil
// when nobody can answer.
func Interactive(stdin, stdout *os.File) Prompter {
	inTTY := term.IsTerminal(int(stdin.Fd()))
	outTTY := term.IsTerminal(int(stdout.Fd()))
	switch {
	case inTTY && outTTY:
		return NewTUIPrompter(stdin, stdout)
	case inTTY:
		return NewTermPrompter(stdin, os.Stderr)
	}
	return nil
}

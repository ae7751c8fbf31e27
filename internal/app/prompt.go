package app

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/fknorr/studip-client/internal/studip"
)

// terminalPrompter reads interactive answers from stdin. Passwords are read
// with echo disabled when stdin is a terminal.
type terminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

var _ studip.Prompter = (*terminalPrompter)(nil)

func newTerminalPrompter() *terminalPrompter {
	return &terminalPrompter{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

// Choice repeats the prompt until the answer's first letter is one of
// options. Empty input selects def.
func (p *terminalPrompter) Choice(prompt string, options string, def byte) (byte, error) {
	for {
		fmt.Fprintf(p.out, "%s: ", prompt)
		line, err := p.in.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("reading answer: %w", err)
		}
		line = strings.ToLower(strings.TrimSpace(line))
		if line == "" {
			return def, nil
		}
		if strings.IndexByte(options, line[0]) >= 0 {
			return line[0], nil
		}
	}
}

func (p *terminalPrompter) ReadLine(prompt string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", prompt)
	line, err := p.in.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (p *terminalPrompter) ReadPassword(prompt string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return p.readLinePlain()
	}
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}

func (p *terminalPrompter) readLinePlain() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

package secrets

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter reads secrets from a terminal, falling back to plain lines
// when stdin is not one.
type Prompter struct {
	in    *os.File
	out   io.Writer
	lines *bufio.Reader
}

// NewPrompter prompts on stderr and reads from stdin.
func NewPrompter() *Prompter {
	return &Prompter{in: os.Stdin, out: os.Stderr}
}

// ReadSecret shows label and reads one line without echo.
func (p *Prompter) ReadSecret(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		if p.lines == nil {
			p.lines = bufio.NewReader(p.in)
		}
		line, err := p.lines.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", fmt.Errorf("reading %s: %w", label, err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	return string(b), nil
}

// Passphrase returns the store passphrase from the environment or asks
// for it.
func (p *Prompter) Passphrase() (string, error) {
	if v := os.Getenv(PassphraseEnv); v != "" {
		return v, nil
	}
	return p.ReadSecret("Secrets passphrase")
}

// NewPassphrase asks twice and requires both entries to match.
func (p *Prompter) NewPassphrase() (string, error) {
	if v := os.Getenv(PassphraseEnv); v != "" {
		return v, nil
	}
	first, err := p.ReadSecret("New secrets passphrase")
	if err != nil {
		return "", err
	}
	second, err := p.ReadSecret("Repeat passphrase")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passphrases do not match")
	}
	return first, nil
}

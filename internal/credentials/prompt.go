// Package credentials captures the management API login once at startup.
package credentials

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rossigee/cloudsize/internal/papi"
	"golang.org/x/term"
)

// ErrEmptyUsername is returned when no username was entered
var ErrEmptyUsername = errors.New("username is required")

// readPassword reads from the terminal without echo; replaced in tests
var readPassword = term.ReadPassword

// Prompter asks for a username and password on an interactive terminal
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

// NewPrompter creates a prompter on stdin and stderr
func NewPrompter() *Prompter {
	return &Prompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stderr,
		fd:  int(os.Stdin.Fd()),
	}
}

// Prompt reads the username line and then the password without echo
func (p *Prompter) Prompt() (papi.Credentials, error) {
	if _, err := fmt.Fprint(p.out, "Username: "); err != nil {
		return papi.Credentials{}, err
	}
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return papi.Credentials{}, fmt.Errorf("failed to read username: %w", err)
	}
	username := strings.TrimSpace(line)
	if username == "" {
		return papi.Credentials{}, ErrEmptyUsername
	}

	if _, err := fmt.Fprint(p.out, "Password: "); err != nil {
		return papi.Credentials{}, err
	}
	password, err := readPassword(p.fd)
	_, _ = fmt.Fprintln(p.out)
	if err != nil {
		return papi.Credentials{}, fmt.Errorf("failed to read password: %w", err)
	}

	return papi.Credentials{Username: username, Password: string(password)}, nil
}

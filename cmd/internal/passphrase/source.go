package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a keystore passphrase from an environment variable or
// by prompting the operator. The value is cached after the first successful
// retrieval.
type Source struct {
	envVar  string
	confirm bool
	prompt  io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source that checks envVar before
// interactively prompting on the terminal.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar), prompt: os.Stderr}
}

// WithConfirmation makes interactive prompts ask twice. Use it when creating
// a keystore.
func (s *Source) WithConfirmation() *Source {
	s.confirm = true
	return s
}

// Get returns the cached passphrase or resolves it if this is the first call.
// Whitespace-only passphrases are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("keystore passphrase required and no terminal available")
	}

	passphrase, err := s.read(fd, "Enter keystore passphrase: ")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(passphrase) == "" {
		return "", errors.New("keystore passphrase cannot be empty")
	}
	if s.confirm {
		again, err := s.read(fd, "Repeat keystore passphrase: ")
		if err != nil {
			return "", err
		}
		if again != passphrase {
			return "", errors.New("passphrases do not match")
		}
	}
	return passphrase, nil
}

func (s *Source) read(fd int, prompt string) (string, error) {
	fmt.Fprint(s.prompt, prompt)
	bytes, err := term.ReadPassword(fd)
	fmt.Fprintln(s.prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(bytes), nil
}

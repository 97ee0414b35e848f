package pass

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/bnema/klapctl/internal/domain"
	"github.com/bnema/klapctl/internal/ports"
)

var ErrUnavailable = errors.New("pass command unavailable")

// pass prints this on stderr for show and rm of a missing entry.
const missingEntryMarker = "is not in the password store"

type runFunc func(ctx context.Context, input string, args ...string) (stdout string, stderr string, err error)

// Store keeps device passwords in pass(1). Only the first line of an entry
// is the password; pass users keep notes below it.
type Store struct {
	run runFunc
}

var _ ports.SecretStore = (*Store)(nil)

// CommandError is a failed pass invocation with its stderr.
type CommandError struct {
	Op     string
	Key    string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("pass %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("pass %s %q: %v: %s", e.Op, e.Key, e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func NewStore() *Store {
	return &Store{run: runPassCommand}
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("pass put %q: device password must be a single line", key)
	}

	_, stderr, err := s.run(ctx, value+"\n", "insert", "--multiline", "--force", key)
	if err != nil {
		return commandError("put", key, err, stderr)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	stdout, stderr, err := s.run(ctx, "", "show", key)
	if err != nil {
		if isMissingEntry(stderr) {
			return "", fmt.Errorf("pass get %q: %w", key, domain.ErrSecretNotFound)
		}
		return "", commandError("get", key, err, stderr)
	}

	password, _, _ := strings.Cut(stdout, "\n")
	return strings.TrimSuffix(password, "\r"), nil
}

// Delete removes the entry. A missing entry is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, stderr, err := s.run(ctx, "", "rm", "--force", key)
	if err != nil && !isMissingEntry(stderr) {
		return commandError("delete", key, err, stderr)
	}

	return nil
}

func runPassCommand(ctx context.Context, input string, args ...string) (string, string, error) {
	path, err := exec.LookPath("pass")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", "", ErrUnavailable
		}
		return "", "", fmt.Errorf("locate pass command: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	return stdout.String(), strings.TrimSpace(stderr.String()), err
}

func isMissingEntry(stderr string) bool {
	return strings.Contains(stderr, missingEntryMarker)
}

func commandError(op string, key string, err error, stderr string) error {
	return &CommandError{Op: op, Key: key, Stderr: stderr, Err: err}
}

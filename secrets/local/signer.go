package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/inspect"
)

const (
	// DefaultTimeout bounds one CA executable invocation.
	DefaultTimeout = 30 * time.Second
	// DefaultWaitDelay is how long a killed process may keep its pipes open.
	DefaultWaitDelay = 2 * time.Second

	maxStderr = 64 << 10
)

// ErrVersionMismatch is returned by CheckVersion when the CA executable
// reports a version other than the configured one.
var ErrVersionMismatch = errors.New("CA executable version mismatch")

// CommandSigner runs an external CA executable.
//
// Signing invokes `<Command> sign -ca <file> -ca-key <file> [-cn <name>]
// [SignArgs...]` with the CSR on stdin and expects certificate PEM on stdout.
// The version probe invokes `<Command> version`.
type CommandSigner struct {
	// Command is the executable followed by any leading arguments.
	Command []string
	// SignArgs are appended to every sign invocation.
	SignArgs []string
	// ExpectedVersion must equal the trimmed output of the version probe.
	ExpectedVersion string
	Timeout         time.Duration
	WaitDelay       time.Duration
	// TempDir holds the short-lived CA files. Empty means os.TempDir.
	TempDir string
	// Env is appended to the inherited environment of the process.
	Env []string
}

// Sign signs csrPEM with the CA given as PEM. A non-empty commonName
// overrides the requested subject CN.
func (s *CommandSigner) Sign(ctx context.Context, caCertPEM, caKeyPEM, csrPEM, commonName string) (string, error) {
	if len(s.Command) == 0 {
		return "", &errs.SigningError{Err: fmt.Errorf("no CA executable configured")}
	}
	if caCertPEM == "" || caKeyPEM == "" {
		return "", &errs.SigningError{Err: fmt.Errorf("signing CA is missing its certificate or key")}
	}

	dir, err := os.MkdirTemp(s.TempDir, "hubpki-sign-*")
	if err != nil {
		return "", &errs.SigningError{Err: fmt.Errorf("creating temp dir: %w", err)}
	}
	defer os.RemoveAll(dir)

	caFile := filepath.Join(dir, "ca.pem")
	keyFile := filepath.Join(dir, "ca-key.pem")
	if err := os.WriteFile(caFile, []byte(caCertPEM), 0o600); err != nil {
		return "", &errs.SigningError{Err: fmt.Errorf("writing CA certificate: %w", err)}
	}
	if err := os.WriteFile(keyFile, []byte(caKeyPEM), 0o600); err != nil {
		return "", &errs.SigningError{Err: fmt.Errorf("writing CA key: %w", err)}
	}

	args := []string{"sign", "-ca", caFile, "-ca-key", keyFile}
	if commonName != "" {
		args = append(args, "-cn", commonName)
	}
	args = append(args, s.SignArgs...)

	stdout, stderr, err := s.run(ctx, strings.NewReader(csrPEM), args)
	if err != nil {
		return "", err
	}
	certPEM := strings.TrimSpace(stdout)
	if _, err := inspect.ParseCertificate(certPEM); err != nil {
		return "", &errs.SigningError{Stderr: stderr, Err: fmt.Errorf("unparsable CA executable output: %w", err)}
	}
	return certPEM + "\n", nil
}

// CheckVersion fails with ErrVersionMismatch unless the executable reports
// exactly ExpectedVersion.
func (s *CommandSigner) CheckVersion(ctx context.Context) error {
	if len(s.Command) == 0 {
		return fmt.Errorf("no CA executable configured")
	}
	stdout, _, err := s.run(ctx, nil, []string{"version"})
	if err != nil {
		return fmt.Errorf("probing CA executable version: %w", err)
	}
	if got := strings.TrimSpace(stdout); got != s.ExpectedVersion {
		return fmt.Errorf("%w: got %q, want %q", ErrVersionMismatch, got, s.ExpectedVersion)
	}
	return nil
}

func (s *CommandSigner) run(ctx context.Context, stdin io.Reader, args []string) (string, string, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	waitDelay := s.WaitDelay
	if waitDelay <= 0 {
		waitDelay = DefaultWaitDelay
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := append(append([]string{}, s.Command[1:]...), args...)
	cmd := exec.CommandContext(ctx, s.Command[0], argv...)
	cmd.WaitDelay = waitDelay
	cmd.Stdin = stdin
	cmd.Env = append(os.Environ(), s.Env...)

	var stdout bytes.Buffer
	stderr := &limitedBuffer{max: maxStderr}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", stderr.String(), &errs.SigningError{
			Stderr: stderr.String(),
			Err:    fmt.Errorf("CA executable did not finish within %s: %w", timeout, ctxErr),
		}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", stderr.String(), &errs.SigningError{
				Stderr:   stderr.String(),
				ExitCode: exitErr.ExitCode(),
				Err:      fmt.Errorf("CA executable failed"),
			}
		}
		return "", stderr.String(), &errs.SigningError{Stderr: stderr.String(), Err: fmt.Errorf("running CA executable: %w", err)}
	}
	return stdout.String(), stderr.String(), nil
}

// limitedBuffer keeps the first max bytes written and discards the rest.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }

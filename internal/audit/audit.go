// Package audit writes structured security audit records for PKI operations.
package audit

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// Event identifies the type of security-relevant action being logged.
type Event string

const (
	CAImported             Event = "ca_imported"
	CACreated              Event = "ca_created"
	CSRSigned              Event = "csr_signed"
	JWSRotated             Event = "jws_rotated"
	JWSRotationRejected    Event = "jws_rotation_rejected"
	JWSSet                 Event = "jws_set"
	JWSDeleted             Event = "jws_deleted"
	ServerCertsSet         Event = "server_certs_set"
	DFSPCASet              Event = "dfsp_ca_set"
	DFSPCADeleted          Event = "dfsp_ca_deleted"
	EnrollmentCreated      Event = "enrollment_created"
	EnrollmentSigned       Event = "enrollment_signed"
	EnrollmentCertAttached Event = "enrollment_cert_attached"
	EnrollmentValidated    Event = "enrollment_validated"
	SecretMigrated         Event = "secret_migrated"
)

// Logger wraps slog.Logger for audit records and keeps a per-event count.
// Attributes must never carry private key material.
type Logger struct {
	logger *slog.Logger

	mu     sync.Mutex
	counts map[Event]int
}

// New returns a Logger writing through logger. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		logger: logger.With("component", "audit"),
		counts: make(map[Event]int),
	}
}

// Log writes one audit record.
func (l *Logger) Log(ctx context.Context, event Event, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit", append(base, attrs...)...)

	l.mu.Lock()
	l.counts[event]++
	l.mu.Unlock()
}

// Failure writes an audit record for a rejected operation.
func (l *Logger) Failure(ctx context.Context, event Event, reason string, attrs ...slog.Attr) {
	l.Log(ctx, event, append([]slog.Attr{slog.String("reason", reason)}, attrs...)...)
}

// Counts returns how many records were written per event.
func (l *Logger) Counts() map[Event]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.counts)
}

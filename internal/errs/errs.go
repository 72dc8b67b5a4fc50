// Package errs defines the typed error kinds shared across tuta-export's
// components and maps each to a process exit code.
package errs

import "fmt"

// Kind classifies an error by the recovery policy a caller should apply.
type Kind string

const (
	// KindConfig covers missing/invalid credentials or a bad CLI flag.
	KindConfig Kind = "config"
	// KindNetwork covers connect, TLS, and I/O failures talking to the service.
	KindNetwork Kind = "network"
	// KindHTTP covers terminal 4xx responses (other than 401/429).
	KindHTTP Kind = "http"
	// KindAuth covers repeated 401s or a bad password-derived verifier.
	KindAuth Kind = "auth"
	// KindCrypto covers MAC, padding, or KDF failures.
	KindCrypto Kind = "crypto"
	// KindCodec covers malformed JSON, missing required fields, bad UTF-8.
	KindCodec Kind = "codec"
	// KindIO covers disk full, permission, or rename failures.
	KindIO Kind = "io"
	// KindCancelled covers a user-initiated interrupt.
	KindCancelled Kind = "cancelled"
	// KindPartial covers an export that completed but skipped one or more
	// mails along the way.
	KindPartial Kind = "partial"
)

// CLIError is a typed error carrying the context needed to pick an exit code
// and to log at the right level.
type CLIError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *CLIError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *CLIError) Unwrap() error { return e.Err }

// New wraps err with a Kind and the operation that produced it.
func New(kind Kind, op string, err error) *CLIError {
	if err == nil {
		return nil
	}
	return &CLIError{Kind: kind, Op: op, Err: err}
}

// ExitCode maps a Kind to the CLI's process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *CLIError
	if !asCLIError(err, &ce) {
		return 1
	}
	switch ce.Kind {
	case KindCancelled:
		return 3
	case KindPartial:
		return 2
	default:
		return 1
	}
}

func asCLIError(err error, target **CLIError) bool {
	for err != nil {
		if ce, ok := err.(*CLIError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

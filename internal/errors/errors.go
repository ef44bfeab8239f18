package errors

import (
	"fmt"
	"time"
)

// Authentication errors

// ErrAuthenticationFailed is returned when the identity provider rejects an
// interactive login (bad credentials or an auth_failure response).
type ErrAuthenticationFailed struct {
	StatusCode int
	Message    string
}

func (e *ErrAuthenticationFailed) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("authentication failed (status %d)", e.StatusCode)
}

// ErrMultiFactorTimeout is returned when the user does not supply a
// one-time code within the collection window.
type ErrMultiFactorTimeout struct {
	Waited time.Duration
}

func (e *ErrMultiFactorTimeout) Error() string {
	return fmt.Sprintf("multi-factor code not received within %s", e.Waited)
}

// ErrInvalidCode is returned when the provider rejects a one-time code.
type ErrInvalidCode struct {
	Message string
}

func (e *ErrInvalidCode) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("invalid multi-factor code: %s", e.Message)
	}
	return "invalid multi-factor code"
}

// ErrReauthorizationFailed is returned when silent refresh exhausts its
// retry budget. The session is permanently unavailable afterwards and the
// user must relink the account.
type ErrReauthorizationFailed struct {
	PUUID    string
	Attempts int
	Err      error
}

func (e *ErrReauthorizationFailed) Error() string {
	return fmt.Sprintf("reauthorization failed for %s after %d attempts: %v", e.PUUID, e.Attempts, e.Err)
}

func (e *ErrReauthorizationFailed) Unwrap() error {
	return e.Err
}

// ErrSessionUnavailable is returned when an operation is attempted against
// a session whose silent refresh has permanently failed.
type ErrSessionUnavailable struct {
	PUUID string
}

func (e *ErrSessionUnavailable) Error() string {
	return fmt.Sprintf("session %s is unavailable, account must be relinked", e.PUUID)
}

// Secret store errors

// ErrDecryption is returned when a ciphertext cannot be decrypted under any
// configured key. Fatal for the single credential record, never the process.
type ErrDecryption struct {
	KeysTried int
}

func (e *ErrDecryption) Error() string {
	return fmt.Sprintf("ciphertext not decryptable under any of %d configured keys", e.KeysTried)
}

// Upstream errors

// ErrRateLimited is returned when the upstream responds with 429. It carries
// the retry-after hint so the front end can inform the user.
type ErrRateLimited struct {
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("upstream rate limited, retry after %s", e.RetryAfter)
}

// ErrUpstreamTransient covers timeouts and 5xx responses that are eligible
// for the bounded retry policy.
type ErrUpstreamTransient struct {
	StatusCode int
	Err        error
}

func (e *ErrUpstreamTransient) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient upstream error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient upstream error (status %d)", e.StatusCode)
}

func (e *ErrUpstreamTransient) Unwrap() error {
	return e.Err
}

// ErrUpstreamStatus is returned for non-retryable unexpected upstream
// responses.
type ErrUpstreamStatus struct {
	StatusCode int
	Body       string
}

func (e *ErrUpstreamStatus) Error() string {
	return fmt.Sprintf("unexpected upstream status %d: %s", e.StatusCode, e.Body)
}

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

// ErrCredentialNotFound is returned when no credential record exists for a
// (puuid, owner) pair.
type ErrCredentialNotFound struct {
	PUUID   string
	OwnerID int64
}

func (e *ErrCredentialNotFound) Error() string {
	return fmt.Sprintf("no credential record for puuid %s owned by %d", e.PUUID, e.OwnerID)
}

// ErrDuplicateCredential is returned when a user links the same upstream
// account twice.
type ErrDuplicateCredential struct {
	PUUID   string
	OwnerID int64
}

func (e *ErrDuplicateCredential) Error() string {
	return fmt.Sprintf("account %s is already linked by user %d", e.PUUID, e.OwnerID)
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

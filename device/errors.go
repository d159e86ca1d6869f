package device

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnectTimeout means the session never delivered its initialization
	// signal within the connect deadline.
	ErrConnectTimeout = errors.New("timed out waiting for device initialization")
	// ErrMissingEntity means a registry lookup failed. On the settings write
	// path it surfaces to the caller; on the state ingest path it is logged
	// and the event is dropped.
	ErrMissingEntity = errors.New("entity not present in registry")
)

// ValidationError reports a malformed entity announcement or state payload.
// These are dropped and logged, never fatal to the session.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload: %s: %s", e.Field, e.Reason)
}

// encryptionMismatchMarker is the error text the device emits when it expects
// an encrypted session and got a plaintext one. Treated as a permanent
// misconfiguration: reconnecting cannot fix a wrong key.
const encryptionMismatchMarker = "Bad format: Encryption expected"

func isEncryptionMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), encryptionMismatchMarker)
}

// User-facing unavailability reasons. Kept distinct so the operator can tell
// whether retrying is useful.
const (
	reasonTimeout    = "device did not respond, check that it is powered and reachable"
	reasonGeneric    = "connection to device lost"
	reasonEncryption = "device expects an encryption key, re-pair the device"
)

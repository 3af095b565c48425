// Package errs centralizes the sentinel errors that drive control flow
// between the fabric, fault detector, repair protocol and driver. The
// driver's loop matches on these with errors.Is rather than inspecting
// fabric-specific error codes directly.
package errs

import "errors"

var (
	// ErrProcessFailed marks an operation that failed because a peer
	// rank is gone. Recoverable: triggers world repair.
	ErrProcessFailed = errors.New("fabric: process failed")

	// ErrRevoked marks an operation attempted against a world that has
	// already been revoked. Recoverable: triggers world repair.
	ErrRevoked = errors.New("fabric: world revoked")

	// ErrFatal marks a communication error that is neither a process
	// failure nor a revocation. The driver aborts the run.
	ErrFatal = errors.New("fabric: fatal communication error")

	// ErrRestoreUnavailable means have_restart found no durable
	// checkpoint; the driver should start from initial conditions.
	ErrRestoreUnavailable = errors.New("checkpoint: no restart available")

	// ErrRestoreInvalid means a checkpoint payload failed validation;
	// the store should be re-queried for an older dataset.
	ErrRestoreInvalid = errors.New("checkpoint: restore payload invalid")

	// ErrConfig marks a configuration problem (missing flag, P*Q !=
	// world size). No repair is attempted; the program exits non-zero.
	ErrConfig = errors.New("config: invalid configuration")
)

// IsRecoverable reports whether err should route through the world
// repair protocol rather than aborting the program.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrProcessFailed) || errors.Is(err, ErrRevoked)
}

package reservation

import (
	"errors"
	"fmt"
)

// Errors returned by Service.  Each maps to a stable kind at the HTTP
// boundary; their messages are safe to show to callers.
var (
	// ErrInvalidPerformance means the concert does not run at the
	// requested date or the request itself is malformed.
	ErrInvalidPerformance = errors.New("invalid performance")
	// ErrInsufficientSeats means the partition has fewer free seats than
	// requested.  No hold was created.
	ErrInsufficientSeats = errors.New("not enough seats available in the requested price band")
	// ErrPaymentMethodRequired means the caller has no registered payment
	// method.  The caller's hold has been released.
	ErrPaymentMethodRequired = errors.New("a registered payment method is required to confirm a reservation")
	// ErrReservationExpired means the hold is unknown, has expired or is
	// no longer pending.
	ErrReservationExpired = errors.New("reservation has expired")
	// ErrForbidden means the hold belongs to another user.
	ErrForbidden = errors.New("reservation belongs to another user")
	// ErrLockTimeout means the partition lock could not be acquired in
	// time.  Nothing was committed; the call can be retried as a whole.
	ErrLockTimeout = errors.New("timed out waiting for the performance lock")

	ErrInvalidSeatCount = fmt.Errorf("%w: seat count must be positive", ErrInvalidPerformance)
	ErrUnknownPriceBand = fmt.Errorf("%w: unknown price band", ErrInvalidPerformance)
)

// Ledger level errors.  Service translates them before they reach a
// caller.
var (
	ErrHoldNotFound = errors.New("hold not found")
	ErrNotOwner     = errors.New("hold owned by another user")
	ErrHoldExpired  = errors.New("hold expired")
	// ErrPartitionReleased is returned by Partition methods called after
	// the WithPartitionLock callback has returned.
	ErrPartitionReleased = errors.New("partition lock no longer held")
)

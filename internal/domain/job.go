package domain

import (
	"fmt"
	"time"
)

// Status is the workflow state of a job. The numeric values are part of the
// agent contract: agents see 1=Checking, 2=Live, 3=Die, 4=Unknown.
type Status int

const (
	Pending  Status = 0
	Checking Status = 1
	Live     Status = 2
	Die      Status = 3
	Unknown  Status = 4
)

var statusNames = map[Status]string{
	Pending:  "pending",
	Checking: "checking",
	Live:     "live",
	Die:      "die",
	Unknown:  "unknown",
}

// AllStatuses lists every status in contract order.
var AllStatuses = []Status{Pending, Checking, Live, Die, Unknown}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether s never changes again.
func (s Status) Terminal() bool {
	return s == Live || s == Die || s == Unknown
}

// CanTransitionTo enforces Pending -> Checking -> {Live, Die, Unknown}.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case Pending:
		return next == Checking
	case Checking:
		return next.Terminal()
	default:
		return false
	}
}

// ParseStatus maps a name back to its Status.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// FinalizedBySweeper marks jobs terminated by lease expiry rather than by an
// agent report.
const FinalizedBySweeper = "sweeper"

// LeaseExpiredMessage is the result message written on lease expiry.
const LeaseExpiredMessage = "lease expired"

type Job struct {
	ID             string
	SubmissionID   *string
	Payload        string
	CheckClass     int
	Status         Status
	LeaseOwner     *string
	LeaseExpiresAt *time.Time
	ResultMessage  *string
	FinalizedBy    *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewJob is the enqueue input for a single job.
type NewJob struct {
	SubmissionID string
	Payload      string
	CheckClass   int
}

// Outcome classifies a result report.
type Outcome int

const (
	Accepted Outcome = iota + 1
	AlreadyFinalized
	LeaseMismatch
	NotFound
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case AlreadyFinalized:
		return "already_finalized"
	case LeaseMismatch:
		return "lease_mismatch"
	case NotFound:
		return "not_found"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

package billing

import "fmt"

// Status is the lifecycle state of a billing document.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusReady    Status = "READY"
	StatusExported Status = "EXPORTED"
	StatusFilesOK  Status = "FILESOK"
	StatusAckErr   Status = "ACKERR"
	StatusAckOK    Status = "ACKOK"
)

var transitions = map[Status][]Status{
	StatusDraft:    {StatusReady},
	StatusReady:    {StatusExported, StatusFilesOK, StatusAckErr},
	StatusExported: {StatusFilesOK, StatusAckErr, StatusAckOK},
	StatusFilesOK:  {StatusAckOK, StatusAckErr},
}

// IsValid reports whether the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusReady, StatusExported, StatusFilesOK, StatusAckErr, StatusAckOK:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether next is a legal successor.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseStatus converts a stored value into a Status.
func ParseStatus(value string) (Status, error) {
	s := Status(value)
	if !s.IsValid() {
		return "", fmt.Errorf("billing: unknown status %q", value)
	}
	return s, nil
}

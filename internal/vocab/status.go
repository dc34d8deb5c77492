package vocab

import (
	"fmt"
	"strings"
)

// Status is a canonical lifecycle status. Pipelines use different
// terms for the same state ("wip", "final"); ParseStatus maps the
// common ones onto the canonical set.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusDelivered  Status = "delivered"
	StatusArchived   Status = "archived"
)

var statusAliases = map[string]Status{
	"wip":              StatusInProgress,
	"work_in_progress": StatusInProgress,
	"ip":               StatusInProgress,
	"pending_review":   StatusReview,
	"for_review":       StatusReview,
	"final":            StatusDelivered,
	"done":             StatusDelivered,
	"complete":         StatusDelivered,
	"omit":             StatusArchived,
}

// Statuses returns all canonical values in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusPending, StatusInProgress, StatusReview, StatusApproved,
		StatusRejected, StatusDelivered, StatusArchived,
	}
}

// ParseStatus normalizes a status string, accepting common aliases.
func ParseStatus(value string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if s, ok := statusAliases[normalized]; ok {
		return s, nil
	}
	s := Status(normalized)
	if s.Valid() {
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q, valid values: %v", value, Statuses())
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusReview, StatusApproved,
		StatusRejected, StatusDelivered, StatusArchived:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

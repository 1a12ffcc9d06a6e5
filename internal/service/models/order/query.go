package order

import "errors"

// ListQuery represents filter parameters for listing tenant orders.
type ListQuery struct {
	Statuses      []Status `json:"statuses,omitempty" schema:"status"`
	SinceSequence uint64   `json:"sinceSequence,omitempty" schema:"since_sequence"`
	Limit         int      `json:"limit,omitempty" schema:"limit"`
}

// Validate checks that every requested status is part of the lifecycle.
func (q ListQuery) Validate() error {
	for _, s := range q.Statuses {
		if _, err := ParseStatus(s.String()); err != nil {
			return err
		}
	}
	if q.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	return nil
}

// MatchStatus reports whether the order passes the status filter.
func (q ListQuery) MatchStatus(o Order) bool {
	if len(q.Statuses) == 0 {
		return true
	}
	for _, s := range q.Statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

package repository

import "errors"

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// PageOptions is limit/offset pagination for list queries.
type PageOptions struct {
	Limit  int `json:"limit" form:"limit"`
	Offset int `json:"offset" form:"offset"`
}

// Validate sets the default limit and rejects out of range values.
func (o *PageOptions) Validate() error {
	if o.Limit <= 0 {
		o.Limit = DefaultPageLimit
	}
	if o.Limit > MaxPageLimit {
		return errors.New("limit exceeds maximum allowed value of 100")
	}
	if o.Offset < 0 {
		return errors.New("offset must be non-negative")
	}
	return nil
}

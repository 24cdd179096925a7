package scraper

import "context"

type Credentials struct {
	UserName       string
	EmployeeNumber string
	Password       string
}

// Result of one completed portal session.
type Result struct {
	Shifts []Shift
	// DisplayName is the name the portal shows for this account, empty when
	// the page did not expose one.
	DisplayName string
}

// Scraper runs one portal session. A non-nil error is always a *Failure.
type Scraper interface {
	Run(ctx context.Context, creds Credentials) (*Result, error)
}

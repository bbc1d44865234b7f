package appErrors

import (
	"errors"
	"fmt"
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// IsCampaignNotFound reports whether err wraps an ErrCampaignNotFound.
func IsCampaignNotFound(err error) bool {
	var nf *ErrCampaignNotFound
	return errors.As(err, &nf)
}

// ErrInvalidTransition is returned when a lifecycle operation is applied to
// a campaign whose current status does not permit it.
type ErrInvalidTransition struct {
	From string
	To   string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid campaign transition %s -> %s", e.From, e.To)
}

func NewInvalidTransition(from, to string) error {
	return &ErrInvalidTransition{From: from, To: to}
}

var (
	// ErrRateLimited is a distinct outcome, not a generic failure: the
	// caller hit the governor's slot or rate ceiling.
	ErrRateLimited = errors.New("rate limited")

	// ErrLeaseHeld means another batch run is actively advancing the
	// campaign; the caller should return without touching anything.
	ErrLeaseHeld = errors.New("campaign lease held by another run")

	// ErrRelayUnverified means the relay connectivity probe failed, so the
	// start/resume transition did not commit.
	ErrRelayUnverified = errors.New("relay verification failed")
)

package service

import "sync/atomic"

// Ticket marks a caller's interest in the outcome of one workflow call.
// Withdrawing it never aborts the request; it only keeps the response from
// being applied. A nil Ticket is never withdrawn.
type Ticket struct {
	withdrawn atomic.Bool
}

// NewTicket returns a live ticket.
func NewTicket() *Ticket { return &Ticket{} }

// Withdraw signals that the caller is no longer interested. Safe to call repeatedly.
func (t *Ticket) Withdraw() {
	if t != nil {
		t.withdrawn.Store(true)
	}
}

// Withdrawn reports whether Withdraw has been called.
func (t *Ticket) Withdrawn() bool {
	return t != nil && t.withdrawn.Load()
}

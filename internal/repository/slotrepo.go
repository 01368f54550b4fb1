// Package repository defines storage interfaces implemented by concrete backends.
package repository

import "context"

// Slot names of the persisted session record.
const (
	SlotToken = "token"
	SlotUser  = "user-json"
)

// SlotRepository is a durable key-value store for the session slots.
type SlotRepository interface {
	// Get returns the slot value or errs.ErrNotFound; unreadable content yields errs.ErrCorrupt.
	Get(ctx context.Context, slot string) (string, error)
	// Put writes the slot value, replacing any previous one.
	Put(ctx context.Context, slot, value string) error
	// Delete removes the slot. Deleting a missing slot is not an error.
	Delete(ctx context.Context, slot string) error
}

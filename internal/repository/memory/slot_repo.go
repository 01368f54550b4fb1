// Package memory contains an in-process SlotRepository.
package memory

import (
	"context"
	"sync"

	"github.com/and161185/resumatch/internal/errs"
)

// SlotRepo keeps slots in a map; nothing survives the process.
type SlotRepo struct {
	mu    sync.Mutex
	slots map[string]string
}

// NewSlotRepo constructs an empty repository.
func NewSlotRepo() *SlotRepo { return &SlotRepo{slots: map[string]string{}} }

func (r *SlotRepo) Get(_ context.Context, slot string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.slots[slot]
	if !ok {
		return "", errs.ErrNotFound
	}
	return v, nil
}

func (r *SlotRepo) Put(_ context.Context, slot, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[slot] = value
	return nil
}

func (r *SlotRepo) Delete(_ context.Context, slot string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, slot)
	return nil
}

package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/avatar-ingest/internal/avatar"
)

// SlotStore keeps exactly one current attachment per owner.
type SlotStore struct {
	mu    sync.RWMutex
	slots map[avatar.OwnerRef]avatar.Attachment
}

// NewSlotStore constructs a SlotStore.
func NewSlotStore() *SlotStore {
	return &SlotStore{
		slots: make(map[avatar.OwnerRef]avatar.Attachment),
	}
}

// PutAttachment replaces the owner's current attachment.
func (s *SlotStore) PutAttachment(_ context.Context, att avatar.Attachment) error {
	if att.Owner.IsZero() {
		return fmt.Errorf("attachment owner is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[att.Owner] = att
	return nil
}

// GetAttachment returns the owner's current attachment or avatar.ErrSlotEmpty.
func (s *SlotStore) GetAttachment(_ context.Context, ref avatar.OwnerRef) (avatar.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	att, ok := s.slots[ref]
	if !ok {
		return avatar.Attachment{}, avatar.ErrSlotEmpty
	}
	return att, nil
}

// Len returns the number of owners holding an avatar.
func (s *SlotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

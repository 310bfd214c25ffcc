package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/errs"
	"github.com/Ramsey-B/clover/pkg/models"
)

type CanonicalStore struct {
	s *Store
}

func (c *CanonicalStore) Get(_ context.Context, id string) (*models.CanonicalContact, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.fail("canonical.Get"); err != nil {
		return nil, err
	}
	return c.get(id)
}

func (c *CanonicalStore) GetByRecord(_ context.Context, ref models.EntityRef) (*models.CanonicalContact, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.fail("canonical.GetByRecord"); err != nil {
		return nil, err
	}

	id, ok := c.s.d.links[ref]
	if !ok {
		return nil, nil
	}
	return c.get(id)
}

func (c *CanonicalStore) Save(ctx context.Context, contact *models.CanonicalContact) (*models.CanonicalContact, error) {
	defer c.s.lockWrite(ctx)()
	if err := c.s.fail("canonical.Save"); err != nil {
		return nil, err
	}

	now := c.s.now()
	if contact.ID == "" {
		contact.ID = uuid.New().String()
		contact.CreatedAt = now
	}
	contact.UpdatedAt = now
	contact.Recompute()

	stored := copyContact(contact)
	stored.LinkedRecords = nil
	c.s.d.contacts[contact.ID] = stored
	for _, ref := range contact.LinkedRecords {
		c.s.d.links[ref] = contact.ID
	}
	return contact, nil
}

// get must be called with mu held. Linked records are read from the link
// index so a record relinked elsewhere leaves its previous contact.
func (c *CanonicalStore) get(id string) (*models.CanonicalContact, error) {
	stored, ok := c.s.d.contacts[id]
	if !ok {
		return nil, errs.NotFound("canonical contact %s not found", id)
	}

	contact := copyContact(stored)
	for ref, contactID := range c.s.d.links {
		if contactID == id {
			contact.LinkedRecords = append(contact.LinkedRecords, ref)
		}
	}
	sort.Slice(contact.LinkedRecords, func(i, j int) bool {
		return contact.LinkedRecords[i].Less(contact.LinkedRecords[j])
	})
	return contact, nil
}

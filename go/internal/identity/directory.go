package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/pregao/go/internal/models"
)

// ErrUnknownUser signals a user with no role in the dispute room.
var ErrUnknownUser = errors.New("identity: unknown user")

// Directory is an in-memory role directory. Suppliers may bid on any lot
// whose roster lists them unless they were barred from it.
type Directory struct {
	mu     sync.RWMutex
	roles  map[string]models.Role
	barred map[uuid.UUID]map[string]struct{}
}

// NewDirectory creates a directory from a user id to role map.
func NewDirectory(roles map[string]models.Role) *Directory {
	d := &Directory{
		roles:  make(map[string]models.Role, len(roles)),
		barred: make(map[uuid.UUID]map[string]struct{}),
	}
	for id, role := range roles {
		d.roles[id] = role
	}
	return d
}

// SetRole assigns a role to a user.
func (d *Directory) SetRole(userID string, role models.Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[userID] = role
}

// Bar excludes a supplier from bidding on a lot.
func (d *Directory) Bar(lotID uuid.UUID, supplierID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.barred[lotID] == nil {
		d.barred[lotID] = make(map[string]struct{})
	}
	d.barred[lotID][supplierID] = struct{}{}
}

func (d *Directory) RoleOf(_ context.Context, userID string) (models.Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	role, ok := d.roles[userID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return role, nil
}

func (d *Directory) IsParticipant(_ context.Context, lotID uuid.UUID, supplierID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.roles[supplierID] != models.RoleSupplier {
		return false, nil
	}
	_, barred := d.barred[lotID][supplierID]
	return !barred, nil
}

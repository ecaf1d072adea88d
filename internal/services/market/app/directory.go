package app

import (
	"context"
	"strings"

	"github.com/Casazola49/blacklist-core/internal/platform/events"
	"github.com/Casazola49/blacklist-core/internal/services/market/domain/event"
	"github.com/Casazola49/blacklist-core/internal/services/market/storage"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
)

// Directory is the administrative surface over the actor directory. Role and
// profile changes require an admin grant and publish directory events on the
// same stream the anomaly detector watches, so privilege changes are always
// observable.
type Directory struct {
	store    storage.DirectoryStore
	guard    *Guard
	bus      *events.Bus
	settings settings
}

// NewDirectory creates the directory administration service.
func NewDirectory(store storage.DirectoryStore, guard *Guard, bus *events.Bus, opts ...Option) *Directory {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return &Directory{store: store, guard: guard, bus: bus, settings: s}
}

// ChangeActorRole reassigns the actor's marketplace role. Reassigning the
// role the actor already holds is a no-op and publishes nothing.
func (d *Directory) ChangeActorRole(ctx context.Context, actorID string, role storage.ActorRole) (storage.Actor, error) {
	admin, err := d.guard.RequireAdmin(ctx)
	if err != nil {
		return storage.Actor{}, err
	}
	switch role {
	case storage.RoleClient, storage.RoleSpecialist, storage.RoleAdmin:
	default:
		return storage.Actor{}, apperrors.WithMetadata(apperrors.CodeDirectoryInvalidRole,
			"unknown marketplace role",
			map[string]string{"role": string(role)})
	}
	previous, err := d.store.UpdateActorRole(ctx, actorID, role, d.settings.now().UTC())
	if err != nil {
		return storage.Actor{}, err
	}
	updated, err := d.store.GetActor(ctx, actorID)
	if err != nil {
		return storage.Actor{}, err
	}
	if previous != role && d.bus != nil {
		d.bus.Publish(ctx, event.WithChange(
			event.New(event.RoleChanged, admin.ID, event.ResourceActor, updated.ID),
			map[string]any{"role": string(previous)},
			map[string]any{"role": string(role)},
		))
	}
	return updated, nil
}

// UpdateActorProfile changes the actor's display name.
func (d *Directory) UpdateActorProfile(ctx context.Context, actorID, displayName string) (storage.Actor, error) {
	admin, err := d.guard.RequireAdmin(ctx)
	if err != nil {
		return storage.Actor{}, err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return storage.Actor{}, apperrors.New(apperrors.CodeDirectoryEmptyName, "display name is required")
	}
	previous, err := d.store.UpdateActorProfile(ctx, actorID, displayName, d.settings.now().UTC())
	if err != nil {
		return storage.Actor{}, err
	}
	updated, err := d.store.GetActor(ctx, actorID)
	if err != nil {
		return storage.Actor{}, err
	}
	if previous != displayName && d.bus != nil {
		d.bus.Publish(ctx, event.WithChange(
			event.New(event.ProfileUpdated, admin.ID, event.ResourceActor, updated.ID),
			map[string]any{"display_name": previous},
			map[string]any{"display_name": displayName},
		))
	}
	return updated, nil
}

package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
	"github.com/Casazola49/blacklist-core/internal/platform/requestctx"
	"github.com/Casazola49/blacklist-core/internal/services/market/storage"
)

// adminScope is the scope claim an administrative grant must carry.
const adminScope = "admin"

// grantClaims is the signed payload of an administrative grant.
type grantClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Guard centralizes permission checks for market operations. Every
// administrative entry point resolves through RequireAdmin; lifecycle
// operations resolve the acting account through RequireActiveActor.
type Guard struct {
	directory storage.DirectoryStore
	secret    []byte
	now       func() time.Time
}

// NewGuard creates a guard backed by the actor directory.
func NewGuard(directory storage.DirectoryStore, secret []byte, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{directory: directory, secret: secret, now: now}
}

// RequireActiveActor resolves the authenticated actor and rejects suspended
// or unknown accounts.
func (g *Guard) RequireActiveActor(ctx context.Context) (storage.Actor, error) {
	if g == nil || g.directory == nil {
		return storage.Actor{}, apperrors.New(apperrors.CodeUnknown, "authorization guard is not configured")
	}
	actorID := strings.TrimSpace(requestctx.ActorIDFromContext(ctx))
	if actorID == "" {
		return storage.Actor{}, apperrors.New(apperrors.CodePermissionDenied, "caller identity is required")
	}
	actor, err := g.directory.GetActor(ctx, actorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Actor{}, apperrors.WithMetadata(apperrors.CodeActorUnknown,
				"actor is not registered",
				map[string]string{"actor_id": actorID})
		}
		return storage.Actor{}, apperrors.Wrap(apperrors.CodePersistenceFailure, "resolve actor", err)
	}
	if actor.State == storage.ActorSuspended {
		return storage.Actor{}, apperrors.WithMetadata(apperrors.CodeActorSuspended,
			"actor is suspended",
			map[string]string{"actor_id": actorID, "reason": actor.SuspensionReason})
	}
	return actor, nil
}

// RequireRole resolves the authenticated actor and checks the directory role.
func (g *Guard) RequireRole(ctx context.Context, role storage.ActorRole) (storage.Actor, error) {
	actor, err := g.RequireActiveActor(ctx)
	if err != nil {
		return storage.Actor{}, err
	}
	if actor.Role != role {
		return storage.Actor{}, apperrors.WithMetadata(apperrors.CodePermissionDenied,
			"operation requires a different role",
			map[string]string{"actor_id": actor.ID, "role": string(actor.Role), "required": string(role)})
	}
	return actor, nil
}

// RequireAdmin verifies the signed administrative grant carried in context
// and confirms the subject still holds the admin role in the directory.
func (g *Guard) RequireAdmin(ctx context.Context) (storage.Actor, error) {
	if g == nil || len(g.secret) == 0 {
		return storage.Actor{}, apperrors.New(apperrors.CodeAdminGrantInvalid, "administrative grants are not configured")
	}
	raw := strings.TrimSpace(requestctx.AdminGrantFromContext(ctx))
	if raw == "" {
		return storage.Actor{}, apperrors.New(apperrors.CodeAdminGrantInvalid, "administrative grant is required")
	}

	claims := &grantClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return storage.Actor{}, apperrors.Wrap(apperrors.CodeAdminGrantExpired, "administrative grant expired", err)
		}
		return storage.Actor{}, apperrors.Wrap(apperrors.CodeAdminGrantInvalid, "administrative grant rejected", err)
	}
	if claims.Scope != adminScope {
		return storage.Actor{}, apperrors.New(apperrors.CodeAdminGrantInvalid, "grant lacks the admin scope")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return storage.Actor{}, apperrors.New(apperrors.CodeAdminGrantInvalid, "grant has no subject")
	}
	if actorID := strings.TrimSpace(requestctx.ActorIDFromContext(ctx)); actorID != "" && actorID != subject {
		return storage.Actor{}, apperrors.New(apperrors.CodeAdminGrantInvalid, "grant subject does not match caller")
	}

	actor, err := g.directory.GetActor(ctx, subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Actor{}, apperrors.WithMetadata(apperrors.CodeActorUnknown,
				"grant subject is not registered",
				map[string]string{"actor_id": subject})
		}
		return storage.Actor{}, apperrors.Wrap(apperrors.CodePersistenceFailure, "resolve admin", err)
	}
	if actor.State == storage.ActorSuspended {
		return storage.Actor{}, apperrors.New(apperrors.CodeActorSuspended, "admin account is suspended")
	}
	if actor.Role != storage.RoleAdmin {
		return storage.Actor{}, apperrors.WithMetadata(apperrors.CodePermissionDenied,
			"grant subject no longer holds the admin role",
			map[string]string{"actor_id": subject, "role": string(actor.Role)})
	}
	return actor, nil
}

// IssueAdminGrant signs a short-lived administrative grant for actorID.
func (g *Guard) IssueAdminGrant(actorID string, ttl time.Duration) (string, error) {
	if g == nil || len(g.secret) == 0 {
		return "", apperrors.New(apperrors.CodeAdminGrantInvalid, "administrative grants are not configured")
	}
	issuedAt := g.now().UTC()
	claims := grantClaims{
		Scope: adminScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strings.TrimSpace(actorID),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnknown, "sign administrative grant", err)
	}
	return signed, nil
}

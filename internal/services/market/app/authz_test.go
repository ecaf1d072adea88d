package app

import (
	"testing"
	"time"

	apperrors "github.com/Casazola49/blacklist-core/internal/platform/errors"
	"github.com/Casazola49/blacklist-core/internal/platform/requestctx"
)

func TestGuardRequireAdminAcceptsValidGrant(t *testing.T) {
	f := newFixture(t)
	admin, err := f.guard.RequireAdmin(f.asAdmin(t, "admin-1"))
	if err != nil {
		t.Fatalf("RequireAdmin() error = %v", err)
	}
	if admin.ID != "admin-1" {
		t.Errorf("admin id = %q, want admin-1", admin.ID)
	}
}

func TestGuardRequireAdminRejectsExpiredGrant(t *testing.T) {
	f := newFixture(t)
	grant, err := f.guard.IssueAdminGrant("admin-1", -time.Minute)
	if err != nil {
		t.Fatalf("IssueAdminGrant() error = %v", err)
	}
	ctx := requestctx.WithAdminGrant(as("admin-1"), grant)
	if _, err := f.guard.RequireAdmin(ctx); !apperrors.Is(err, apperrors.CodeAdminGrantExpired) {
		t.Fatalf("RequireAdmin() error = %v, want %s", err, apperrors.CodeAdminGrantExpired)
	}
}

func TestGuardRequireAdminRejectsForgedGrant(t *testing.T) {
	f := newFixture(t)
	forger := NewGuard(f.store, []byte("some-other-secret"), fixtureClock)
	grant, err := forger.IssueAdminGrant("admin-1", time.Hour)
	if err != nil {
		t.Fatalf("IssueAdminGrant() error = %v", err)
	}
	ctx := requestctx.WithAdminGrant(as("admin-1"), grant)
	if _, err := f.guard.RequireAdmin(ctx); !apperrors.Is(err, apperrors.CodeAdminGrantInvalid) {
		t.Fatalf("RequireAdmin() error = %v, want %s", err, apperrors.CodeAdminGrantInvalid)
	}
}

func TestGuardRequireAdminRejectsSubjectMismatch(t *testing.T) {
	f := newFixture(t)
	grant, err := f.guard.IssueAdminGrant("admin-1", time.Hour)
	if err != nil {
		t.Fatalf("IssueAdminGrant() error = %v", err)
	}
	ctx := requestctx.WithAdminGrant(as("client-1"), grant)
	if _, err := f.guard.RequireAdmin(ctx); !apperrors.Is(err, apperrors.CodeAdminGrantInvalid) {
		t.Fatalf("RequireAdmin() error = %v, want %s", err, apperrors.CodeAdminGrantInvalid)
	}
}

func TestGuardRequireActiveActorRejectsUnknown(t *testing.T) {
	f := newFixture(t)
	if _, err := f.guard.RequireActiveActor(as("ghost")); !apperrors.Is(err, apperrors.CodeActorUnknown) {
		t.Fatalf("RequireActiveActor() error = %v, want %s", err, apperrors.CodeActorUnknown)
	}
}

func TestGuardRequireActiveActorRejectsMissingIdentity(t *testing.T) {
	f := newFixture(t)
	if _, err := f.guard.RequireActiveActor(as("")); !apperrors.Is(err, apperrors.CodePermissionDenied) {
		t.Fatalf("RequireActiveActor() error = %v, want %s", err, apperrors.CodePermissionDenied)
	}
}

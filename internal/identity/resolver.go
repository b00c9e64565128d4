// Package identity maps inbound requests to stable visitor identities:
// guest bootstrap, session expiry, magic-link authentication and guest-data
// merge.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/DavidPainting/dti-characters/internal/store"
)

// Principal is the resolved identity for one request.
type Principal struct {
	UserID  string
	Session store.WebSession
}

// MergeResult separates the primary outcome (data re-parenting) from the
// best-effort shell cleanup, so callers can assert the former independently
// of the latter.
type MergeResult struct {
	Moved      int64
	CleanupErr error
}

type Resolver struct {
	store    store.Store
	signer   *Signer
	guestTTL time.Duration
	authTTL  time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewResolver(s store.Store, signer *Signer, guestTTL, authTTL time.Duration, log zerolog.Logger) *Resolver {
	return &Resolver{
		store:    s,
		signer:   signer,
		guestTTL: guestTTL,
		authTTL:  authTTL,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Resolve validates an existing session or bootstraps a guest identity.
// Repeated calls with the same valid session return the same principal and
// create no duplicate rows; an expired session behaves as if none existed.
func (r *Resolver) Resolve(ctx context.Context, sessionID string) (Principal, error) {
	if sessionID != "" {
		sess, err := r.store.GetSession(ctx, sessionID)
		switch {
		case err == nil:
			if r.now().Before(sess.ExpiresAt) {
				return Principal{UserID: sess.UserID, Session: sess}, nil
			}
		case !errors.Is(err, store.ErrNotFound):
			return Principal{}, fmt.Errorf("load session: %w", err)
		}
	}
	return r.bootstrapGuest(ctx)
}

func (r *Resolver) bootstrapGuest(ctx context.Context) (Principal, error) {
	now := r.now()
	u := store.User{ID: uuid.NewString(), CreatedAt: now, AllowMemory: true}
	if err := r.store.CreateUser(ctx, u); err != nil {
		return Principal{}, fmt.Errorf("create guest user: %w", err)
	}
	sess, err := r.newSession(ctx, u.ID, r.guestTTL)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: u.ID, Session: sess}, nil
}

func (r *Resolver) newSession(ctx context.Context, userID string, ttl time.Duration) (store.WebSession, error) {
	now := r.now()
	sess := store.WebSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := r.store.CreateSession(ctx, sess); err != nil {
		return store.WebSession{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// StartAuth finds or creates the user for an email address and returns the
// signed token for its magic link.
func (r *Resolver) StartAuth(ctx context.Context, email string) (string, error) {
	u, err := r.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		u = store.User{ID: uuid.NewString(), Email: email, CreatedAt: r.now(), AllowMemory: true}
		if err := r.store.CreateUser(ctx, u); err != nil {
			return "", fmt.Errorf("create user: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("lookup user: %w", err)
	}
	return r.signer.Sign(u.ID), nil
}

// CompleteAuth redeems a signed visitor-id token: it materializes the target
// user if the token predates first contact, merges the current guest's data
// into it, and issues a fresh session for the authenticated identity.
func (r *Resolver) CompleteAuth(ctx context.Context, token, currentUserID string) (Principal, error) {
	uid, err := r.signer.Verify(token)
	if err != nil {
		return Principal{}, err
	}

	if _, err := r.store.GetUser(ctx, uid); errors.Is(err, store.ErrNotFound) {
		if err := r.store.CreateUser(ctx, store.User{ID: uid, CreatedAt: r.now(), AllowMemory: true}); err != nil {
			return Principal{}, fmt.Errorf("materialize user: %w", err)
		}
	} else if err != nil {
		return Principal{}, fmt.Errorf("load user: %w", err)
	}

	if currentUserID != "" && currentUserID != uid {
		res, err := r.Merge(ctx, currentUserID, uid)
		if err != nil {
			return Principal{}, err
		}
		if res.CleanupErr != nil {
			// Data continuity won: the re-parenting succeeded, only the
			// guest shell removal failed. Log and move on.
			r.log.Warn().Err(res.CleanupErr).
				Str("guest_id", currentUserID).
				Str("user_id", uid).
				Msg("guest shell cleanup failed after merge")
		}
	}

	sess, err := r.newSession(ctx, uid, r.authTTL)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: uid, Session: sess}, nil
}

// Merge re-parents all data owned by fromUserID onto toUserID, then removes
// the guest shell best-effort. A no-op when the ids are equal. The returned
// CleanupErr never indicates a failed merge.
func (r *Resolver) Merge(ctx context.Context, fromUserID, toUserID string) (MergeResult, error) {
	if fromUserID == toUserID {
		return MergeResult{}, nil
	}
	moved, err := r.store.ReparentUserData(ctx, fromUserID, toUserID)
	if err != nil {
		return MergeResult{}, fmt.Errorf("reparent user data: %w", err)
	}
	res := MergeResult{Moved: moved}
	if err := r.store.DeleteGuestShell(ctx, fromUserID); err != nil {
		res.CleanupErr = err
	}
	return res, nil
}

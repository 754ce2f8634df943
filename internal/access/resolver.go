package access

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kirakira-garden/kirakira-api/internal/auth"
	"github.com/kirakira-garden/kirakira-api/internal/db"
)

// EventPrivilegeBypass marks the log entry written whenever a request falls
// back to an admin handle.
const EventPrivilegeBypass = "privilege_bypass_fallback"

// Connector opens database handles at each privilege level.
// *db.DB implements it.
type Connector interface {
	Scoped(ctx context.Context, id auth.Identity) (db.Handle, error)
	Anonymous(ctx context.Context) (db.Handle, error)
	Admin(ctx context.Context) (db.Handle, error)
}

// TokenVerifier turns a bearer token into an identity.
// *auth.Verifier implements it.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, bool)
}

// Grant is a resolved handle together with the caller it was resolved for.
type Grant struct {
	db.Handle
	Identity      auth.Identity
	Authenticated bool
}

// Resolver builds a fresh handle for every call. It keeps no state between
// requests.
type Resolver struct {
	conn     Connector
	verifier TokenVerifier
	log      *zap.SugaredLogger
}

// NewResolver creates a Resolver.
func NewResolver(conn Connector, verifier TokenVerifier, log *zap.SugaredLogger) *Resolver {
	return &Resolver{
		conn:     conn,
		verifier: verifier,
		log:      log,
	}
}

// ResolveHandle verifies token, classifies kind and resolves a handle for the
// result. Callers see a Grant or one of ErrUnauthorized, ErrForbidden and
// *ConfigurationError; verification internals never leave this package.
func (r *Resolver) ResolveHandle(ctx context.Context, token string, kind OperationKind) (*Grant, error) {
	rule, err := Classify(kind)
	if err != nil {
		return nil, err
	}

	var caller *auth.Identity
	if id, ok := r.verifier.Verify(token); ok {
		caller = &id
	}

	switch rule.Required {
	case CredentialScoped:
		if caller == nil {
			return nil, ErrUnauthorized
		}
		// Operator tokens carry no user to scope owned data to.
		if caller.IsService() {
			return nil, ErrForbidden
		}
	case CredentialAdminOnly:
		if caller == nil {
			return nil, ErrUnauthorized
		}
		if !caller.IsService() {
			return nil, ErrForbidden
		}
	case CredentialPublicRead:
		if caller != nil && caller.IsService() {
			caller = nil
		}
	}

	h, err := r.Resolve(ctx, caller, rule)
	if err != nil {
		return nil, err
	}

	grant := &Grant{Handle: h}
	if caller != nil {
		grant.Identity = *caller
		grant.Authenticated = true
	}
	return grant, nil
}

// Resolve returns a handle for caller under rule. A nil caller is anonymous.
//
// A scoped handle is always attempted first when there is a caller. If it
// cannot be built, the rule decides between an admin handle, logged as a
// privilege bypass, and a *ConfigurationError. Anonymous callers of public
// reads get an anonymous handle and never one bound to another identity.
func (r *Resolver) Resolve(ctx context.Context, caller *auth.Identity, rule Rule) (db.Handle, error) {
	switch rule.Required {
	case CredentialAdminOnly:
		h, err := r.conn.Admin(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("resolving admin handle: %w", ctxErr)
			}
			return nil, &ConfigurationError{Kind: rule.Kind, Err: err}
		}
		return h, nil

	case CredentialScoped:
		if caller == nil {
			return nil, ErrUnauthorized
		}
		h, err := r.conn.Scoped(ctx, *caller)
		if err == nil {
			return h, nil
		}
		return r.fallback(ctx, caller, rule, err)

	case CredentialPublicRead:
		if caller != nil {
			h, err := r.conn.Scoped(ctx, *caller)
			if err == nil {
				return h, nil
			}
			r.log.Debugw("scoped handle unavailable for public read, trying anonymous",
				"operation", string(rule.Kind),
				"caller", caller.Subject(),
				"reason", err.Error(),
			)
		}
		h, err := r.conn.Anonymous(ctx)
		if err == nil {
			return h, nil
		}
		return r.fallback(ctx, caller, rule, err)
	}

	return nil, &ConfigurationError{Kind: rule.Kind, Err: fmt.Errorf("unknown credential %q", rule.Required)}
}

func (r *Resolver) fallback(ctx context.Context, caller *auth.Identity, rule Rule, cause error) (db.Handle, error) {
	// A cancelled or timed-out request fails; it is not a reason to escalate.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("resolving %s handle: %w", rule.Kind, ctxErr)
	}

	subject := "anonymous"
	if caller != nil {
		subject = caller.Subject()
	}

	if rule.OnScopedFailure != FallbackAdmin {
		r.log.Errorw("handle resolution rejected",
			"operation", string(rule.Kind),
			"caller", subject,
			"reason", cause.Error(),
		)
		return nil, &ConfigurationError{Kind: rule.Kind, Err: cause}
	}

	h, err := r.conn.Admin(ctx)
	if err != nil {
		r.log.Errorw("admin fallback unavailable",
			"operation", string(rule.Kind),
			"caller", subject,
			"reason", cause.Error(),
			"error", err,
		)
		return nil, &ConfigurationError{Kind: rule.Kind, Err: errors.Join(cause, err)}
	}

	r.log.Warnw("falling back to admin handle",
		"event", EventPrivilegeBypass,
		"operation", string(rule.Kind),
		"caller", subject,
		"reason", cause.Error(),
	)
	return h, nil
}

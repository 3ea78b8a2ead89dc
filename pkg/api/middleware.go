package api

import (
	"context"
	stderrors "errors"
	"net/http"

	perr "github.com/Buchi-dev/puretrack/internal/errors"
	"github.com/Buchi-dev/puretrack/internal/logging"
	"github.com/Buchi-dev/puretrack/internal/models"
)

// handlerFunc is the shape every route handler is written against: it
// returns an error instead of writing one itself, so the taxonomy-to-status
// mapping lives in exactly one place (wrap).
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// wrap adapts a handlerFunc to http.HandlerFunc, mapping any returned error
// to the {success:false, error:{code,message}} envelope and matching status.
func wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			writeError(w, r, err)
		}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status == http.StatusInternalServerError {
		logging.Component("api").WithField("path", r.URL.Path).WithError(err).Error("unhandled internal error")
	}
	writeJSON(w, status, envelope{Success: false, Error: &errorBody{Code: code, Message: message}})
}

// classify maps a typed error from internal/errors to an HTTP status, a
// stable machine-readable code, and a client-safe message — internal errors
// are redacted rather than echoed to the caller.
func classify(err error) (status int, code, message string) {
	switch {
	case perr.IsValidation(err):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case perr.IsNotFound(err):
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	case perr.IsConflict(err):
		return http.StatusConflict, "CONFLICT", err.Error()
	default:
	}

	var forbidden *perr.ForbiddenError
	var unauthorized *perr.UnauthorizedError
	var unavailable *perr.DependencyUnavailable
	switch {
	case stderrors.As(err, &forbidden):
		return http.StatusForbidden, "FORBIDDEN", forbidden.Error()
	case stderrors.As(err, &unauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", unauthorized.Error()
	case stderrors.As(err, &unavailable):
		return http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE", unavailable.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL", "an internal error occurred"
	}
}

// principalKey is the context key upstream middleware stores the verified
// principal under; this module never authenticates, only reads it.
type principalKey struct{}

// principalFrom returns the caller's principal, or an UnauthorizedError if
// none was attached upstream.
func principalFrom(ctx context.Context) (models.Principal, error) {
	p, ok := ctx.Value(principalKey{}).(models.Principal)
	if !ok {
		return models.Principal{}, perr.NewUnauthorized("no principal attached to request")
	}
	return p, nil
}

// WithPrincipal attaches a verified principal to ctx — called by whatever
// upstream authentication middleware the deployment wires in front of this
// package, per the Non-goals in §1.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// requireRole wraps h, rejecting requests whose principal doesn't satisfy
// role, or is altogether missing.
func requireRole(role models.Role, h handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		p, err := principalFrom(r.Context())
		if err != nil {
			return err
		}
		if !p.HasRole(role) {
			return perr.NewForbidden("role %q required", role)
		}
		return h(w, r)
	}
}

// requireAuth wraps h, rejecting requests with no principal attached at
// all, without imposing a specific role — used by endpoints marked "(auth)"
// in §6 rather than "(staff)"/"(admin)".
func requireAuth(h handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		if _, err := principalFrom(r.Context()); err != nil {
			return err
		}
		return h(w, r)
	}
}

// public wraps h with no role check, for endpoints reachable without a
// verified principal (device self-registration, sensor ingest).
func public(h handlerFunc) handlerFunc { return h }

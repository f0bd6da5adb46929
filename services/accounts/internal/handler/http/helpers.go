package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aloauto/marketplace/pkg/httputil"
	"github.com/aloauto/marketplace/pkg/logger"
	"github.com/aloauto/marketplace/pkg/middleware"
	"github.com/aloauto/marketplace/services/accounts/internal/domain"
)

// actorFrom builds the acting identity from the verified token claims.
func actorFrom(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || claims.UserID == "" {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
			Error: &httputil.ErrorResponse{
				Code:      "UNAUTHORIZED",
				Message:   "user not authenticated",
				RequestID: logger.CorrelationIDFromContext(r.Context()),
			},
		})
		return domain.Actor{}, false
	}
	return domain.Actor{UserID: claims.UserID, Role: claims.Role}, true
}

// ownerResolver picks the user whose addresses a request operates on.
type ownerResolver func(w http.ResponseWriter, r *http.Request, actor domain.Actor) (string, bool)

// callerIsOwner serves /api/v1/addresses: the caller manages their own book.
func callerIsOwner(_ http.ResponseWriter, _ *http.Request, actor domain.Actor) (string, bool) {
	return actor.UserID, true
}

// ownerFromPath serves the admin routes, which name the owner in {userId}.
func ownerFromPath(w http.ResponseWriter, r *http.Request, _ domain.Actor) (string, bool) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "userId"))
	if !ok {
		return "", false
	}
	return id.String(), true
}

type actorOwner struct {
	actor   domain.Actor
	ownerID string
}

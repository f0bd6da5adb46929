package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aloauto/marketplace/pkg/httputil"
	"github.com/aloauto/marketplace/pkg/pagination"
	"github.com/aloauto/marketplace/pkg/validator"
	"github.com/aloauto/marketplace/services/accounts/internal/service"
)

// AddressHandler serves an address book. The same handler backs the
// caller's own routes and the admin routes; only the owner resolver differs.
type AddressHandler struct {
	service *service.AddressService
	owner   ownerResolver
	logger  *slog.Logger
}

// NewAddressHandler serves the authenticated caller's own addresses.
func NewAddressHandler(svc *service.AddressService, logger *slog.Logger) *AddressHandler {
	return &AddressHandler{service: svc, owner: callerIsOwner, logger: logger}
}

// NewAdminAddressHandler serves the addresses of the user named in {userId}.
func NewAdminAddressHandler(svc *service.AddressService, logger *slog.Logger) *AddressHandler {
	return &AddressHandler{service: svc, owner: ownerFromPath, logger: logger}
}

// scope resolves actor and owner; ok is false once an error was written.
func (h *AddressHandler) scope(w http.ResponseWriter, r *http.Request) (actorOwner, bool) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return actorOwner{}, false
	}
	ownerID, ok := h.owner(w, r, actor)
	if !ok {
		return actorOwner{}, false
	}
	return actorOwner{actor: actor, ownerID: ownerID}, true
}

func (h *AddressHandler) addressID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return "", false
	}
	return id.String(), true
}

// Create handles POST .../addresses
func (h *AddressHandler) Create(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scope(w, r)
	if !ok {
		return
	}

	var req service.AddressInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	addr, err := h.service.CreateAddress(r.Context(), s.actor, s.ownerID, req)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.Header().Set("Location", r.URL.Path+"/"+addr.ID)
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: addr})
}

// List handles GET .../addresses
func (h *AddressHandler) List(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scope(w, r)
	if !ok {
		return
	}

	params := pagination.FromRequest(r)
	addrs, total, err := h.service.ListAddresses(r.Context(), s.actor, s.ownerID, params)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(addrs, total, params))
}

// Defaults handles GET .../addresses/defaults
func (h *AddressHandler) Defaults(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scope(w, r)
	if !ok {
		return
	}

	defaults, err := h.service.DefaultAddresses(r.Context(), s.actor, s.ownerID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: defaults})
}

// Get handles GET .../addresses/{id}
func (h *AddressHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := h.addressID(w, r)
	if !ok {
		return
	}

	addr, err := h.service.GetAddress(r.Context(), s.actor, s.ownerID, id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: addr})
}

// Patch handles PATCH .../addresses/{id}. Omitted fields keep their value.
func (h *AddressHandler) Patch(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := h.addressID(w, r)
	if !ok {
		return
	}

	var req service.AddressPatch
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.update(w, r, s, id, req)
}

// Replace handles PUT .../addresses/{id}. Every field is required and an
// omitted default flag means false.
func (h *AddressHandler) Replace(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := h.addressID(w, r)
	if !ok {
		return
	}

	var req service.AddressInput
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	h.update(w, r, s, id, req.Patch())
}

func (h *AddressHandler) update(w http.ResponseWriter, r *http.Request, s actorOwner, id string, patch service.AddressPatch) {
	addr, err := h.service.UpdateAddress(r.Context(), s.actor, s.ownerID, id, patch)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: addr})
}

// Delete handles DELETE .../addresses/{id}
func (h *AddressHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, ok := h.addressID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAddress(r.Context(), s.actor, s.ownerID, id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package httpx

import (
	"errors"
	"net/http"

	"github.com/pixeldeck/pixeldeck/internal/data"
	"github.com/pixeldeck/pixeldeck/internal/service"
)

// CredentialHandlers provides HTTP handlers for stored provider credentials.
// Credential values are write-only over HTTP: they can be set and deleted but
// never read back or listed.
type CredentialHandlers struct {
	Svc *service.CredentialService
}

// Put handles HTTP requests to store or replace a credential.
func (h *CredentialHandlers) Put(w http.ResponseWriter, r *http.Request) {
	svc := r.PathValue("service")
	if svc == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("service name is required")})
		return
	}

	var body struct {
		Value string `json:"value"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	if err := h.Svc.Set(r.Context(), svc, body.Value); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Delete handles HTTP requests to remove a stored credential.
func (h *CredentialHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	svc := r.PathValue("service")
	if svc == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("service name is required")})
		return
	}

	if err := h.Svc.Delete(r.Context(), svc); err != nil {
		if errors.Is(err, data.ErrCredentialNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// List handles HTTP requests to enumerate services with stored credentials.
// Only names are returned, never values.
func (h *CredentialHandlers) List(w http.ResponseWriter, r *http.Request) {
	services, err := h.Svc.ListServices(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string][]string{"services": services})
}

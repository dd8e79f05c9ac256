package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/pixeldeck/pixeldeck/internal/core"
	"github.com/pixeldeck/pixeldeck/internal/data"
	"github.com/pixeldeck/pixeldeck/internal/domain/model"
)

// ConfigurationHandlers provides HTTP handlers for saved configurations.
type ConfigurationHandlers struct {
	Repo core.ConfigurationRepository
}

// Create handles HTTP requests to save a named configuration.
func (h *ConfigurationHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateConfigurationRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation_error", Err: err})
		return
	}

	cfg, err := h.Repo.Create(r.Context(), &req)
	if err != nil {
		if errors.Is(err, data.ErrConfigurationNameExists) {
			WriteError(w, ErrorParams{Code: http.StatusConflict, ErrCode: "name_exists", Err: err})
			return
		}
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, cfg)
}

// List handles HTTP requests to list all configurations by name.
func (h *ConfigurationHandlers) List(w http.ResponseWriter, r *http.Request) {
	cfgs, err := h.Repo.List(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, cfgs)
}

// Get handles HTTP requests to fetch a single configuration.
func (h *ConfigurationHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := configurationID(w, r)
	if !ok {
		return
	}

	cfg, err := h.Repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, data.ErrConfigurationNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, cfg)
}

// Update handles HTTP requests to replace a configuration's settings. Existing
// execution snapshots are unaffected; they stay frozen at start time.
func (h *ConfigurationHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := configurationID(w, r)
	if !ok {
		return
	}

	var body struct {
		Settings model.ConfigurationSettings `json:"settings"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}
	if err := body.Settings.Validate(); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation_error", Err: err})
		return
	}

	cfg, err := h.Repo.Update(r.Context(), id, body.Settings)
	if err != nil {
		if errors.Is(err, data.ErrConfigurationNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, cfg)
}

// Delete handles HTTP requests to remove a configuration. Executions keep
// their frozen snapshots; only the live reference goes away.
func (h *ConfigurationHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := configurationID(w, r)
	if !ok {
		return
	}

	if err := h.Repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, data.ErrConfigurationNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func configurationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("configuration id must be an integer")})
		return 0, false
	}
	return id, true
}

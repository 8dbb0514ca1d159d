package handlers

import (
	"net/http"

	"kestrel-irp/core/actors"
	"kestrel-irp/core/auth"
	"kestrel-irp/core/directory"
	"kestrel-irp/core/store"
	"kestrel-irp/core/utils"
)

type DirectoryHandler struct {
	dir       *actors.Directory
	refresher *directory.Refresher
	audits    store.AuditStore
	logger    *utils.Logger
}

func NewDirectoryHandler(dir *actors.Directory, refresher *directory.Refresher, audits store.AuditStore, logger *utils.Logger) *DirectoryHandler {
	return &DirectoryHandler{dir: dir, refresher: refresher, audits: audits, logger: logger}
}

func (h *DirectoryHandler) HQStaff(w http.ResponseWriter, r *http.Request) {
	entries := h.dir.HQStaff()
	if entries == nil {
		entries = []actors.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *DirectoryHandler) AreaOfficers(w http.ResponseWriter, r *http.Request) {
	areaID, ok := pathID(r, "area")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	entries := h.dir.AreaOfficers(areaID)
	if entries == nil {
		entries = []actors.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

// Refresh forces an immediate directory pull outside the cron schedule.
func (h *DirectoryHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := h.refresher.RefreshOnce(r.Context()); err != nil {
		if h.logger != nil {
			h.logger.Errorf("directory manual refresh: %v", err)
		}
		writeError(w, http.StatusBadGateway, "directory.refresh_failed", "directory.refreshFailed")
		return
	}
	actor := ""
	if sr := auth.FromContext(r.Context()); sr != nil {
		actor = sr.Username
	}
	_ = h.audits.Append(r.Context(), actor, "directory.refresh", "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package handlers

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"kestrel-irp/core/activity"
	"kestrel-irp/core/actors"
	"kestrel-irp/core/auth"
	"kestrel-irp/core/complaints"
	"kestrel-irp/core/store"
	"kestrel-irp/core/upstream"
	"kestrel-irp/core/utils"
	"kestrel-irp/core/workflow"
)

const uploadMaxBytes = 32 << 20

type ComplaintsHandler struct {
	svc    *complaints.Service
	dir    *actors.Directory
	users  store.UsersStore
	audits store.AuditStore
	logger *utils.Logger
}

func NewComplaintsHandler(svc *complaints.Service, dir *actors.Directory, users store.UsersStore, audits store.AuditStore, logger *utils.Logger) *ComplaintsHandler {
	return &ComplaintsHandler{svc: svc, dir: dir, users: users, audits: audits, logger: logger}
}

// complaintView is the API shape: the raw assignment references are
// replaced with resolved display labels.
type complaintView struct {
	*complaints.Complaint
	AssignedToLabel string `json:"assigned_to_label,omitempty"`
	AssignedByLabel string `json:"assigned_by_label,omitempty"`
}

func (h *ComplaintsHandler) view(c *complaints.Complaint) complaintView {
	v := complaintView{Complaint: c}
	if c.AssignedTo != "" {
		v.AssignedToLabel = h.dir.Resolve(c.AssignedTo, c.AreaID)
	}
	if c.AssignedBy != "" {
		v.AssignedByLabel = h.dir.Resolve(c.AssignedBy, c.AreaID)
	}
	return v
}

func (h *ComplaintsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context())
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	views := make([]complaintView, 0, len(items))
	for _, c := range items {
		views = append(views, h.view(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (h *ComplaintsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	refresh := r.URL.Query().Get("refresh") == "1"
	c, err := h.svc.Get(r.Context(), id, refresh)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(c))
}

// Timeline returns the two panels of the activity history. The full
// panel is null when everything it holds already shows in the area
// actions panel.
func (h *ComplaintsHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	c, err := h.svc.Get(r.Context(), id, r.URL.Query().Get("refresh") == "1")
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	areaActions, all := complaints.Panels(c)
	if areaActions == nil {
		areaActions = []activity.Activity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"area_actions": areaActions,
		"all":          all,
		"action_taken": c.ActionTaken,
		"stale":        c.Stale,
	})
}

func (h *ComplaintsHandler) Pending(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending_action": h.svc.PendingAction(id)})
}

func (h *ComplaintsHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		OfficerID int64  `json:"officer_id"`
		AssignAll bool   `json:"assign_all"`
		Note      string `json:"note"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !body.AssignAll && body.OfficerID <= 0 {
		writeError(w, http.StatusBadRequest, "complaints.badAssignee", "complaints.assigneeRequired")
		return
	}
	c, err := h.svc.Assign(r.Context(), actor, id, body.OfficerID, body.AssignAll, strings.TrimSpace(body.Note))
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(c))
}

func (h *ComplaintsHandler) Notify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	in, err := mutationPayload(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	c, err := h.svc.Notify(r.Context(), actor, id, in.Note, in.Uploads)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(c))
}

func (h *ComplaintsHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	in, err := mutationPayload(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var newOfficer *int64
	if in.OfficerID > 0 {
		newOfficer = &in.OfficerID
	}
	c, err := h.svc.Reassign(r.Context(), actor, id, newOfficer, in.Note, in.Uploads)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(c))
}

func (h *ComplaintsHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	in, err := mutationPayload(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	c, err := h.svc.Close(r.Context(), actor, id, in.Note, in.Uploads)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(c))
}

func (h *ComplaintsHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	c, err := h.svc.Reopen(r.Context(), actor, id)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(c))
}

// Reserve locks a complaint for one action before its form is filled,
// so two operators cannot open competing dialogs.
func (h *ComplaintsHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	action := workflow.Action(strings.ToUpper(strings.TrimSpace(body.Action)))
	p := workflow.Params{ActorAreaID: actor.AreaID}
	if action == workflow.ActionClose {
		// the summary text arrives with the close itself
		p.ActionText = "-"
	}
	if err := h.svc.Reserve(r.Context(), actor, id, action, p); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending_action": action})
}

func (h *ComplaintsHandler) CancelReserve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	h.svc.Cancel(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actor builds the workflow actor from the session record plus the
// user row behind it.
func (h *ComplaintsHandler) actor(r *http.Request) (complaints.Actor, bool) {
	sr := auth.FromContext(r.Context())
	if sr == nil {
		return complaints.Actor{}, false
	}
	actor := complaints.Actor{ID: sr.UserID, Name: sr.Username, Role: workflow.RoleHQ}
	for _, role := range sr.Roles {
		switch workflow.Role(role) {
		case workflow.RoleArea:
			actor.Role = workflow.RoleArea
		case workflow.RoleAdmin:
			actor.Role = workflow.RoleAdmin
		}
	}
	user, err := h.users.FindByUsername(r.Context(), sr.Username)
	if err == nil && user != nil {
		actor.AreaID = user.AreaID
		if name := strings.TrimSpace(user.FullName); name != "" {
			actor.Name = name
		}
	}
	return actor, true
}

// mutationInput is the shared payload of note-carrying mutations,
// accepted either as JSON or as a multipart form with file uploads.
type mutationInput struct {
	Note      string
	OfficerID int64
	Uploads   []upstream.Upload
}

func mutationPayload(r *http.Request) (mutationInput, error) {
	var in mutationInput
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/form-data") {
		var body struct {
			Note      string `json:"note"`
			Text      string `json:"text"`
			OfficerID int64  `json:"officer_id"`
		}
		if err := decodeJSONBody(r, &body); err != nil {
			return in, err
		}
		in.Note = strings.TrimSpace(body.Note)
		if in.Note == "" {
			in.Note = strings.TrimSpace(body.Text)
		}
		in.OfficerID = body.OfficerID
		return in, nil
	}
	if err := r.ParseMultipartForm(uploadMaxBytes); err != nil {
		return in, err
	}
	in.Note = strings.TrimSpace(r.FormValue("note"))
	if in.Note == "" {
		in.Note = strings.TrimSpace(r.FormValue("text"))
	}
	if raw := strings.TrimSpace(r.FormValue("officer_id")); raw != "" {
		in.OfficerID, _ = strconv.ParseInt(raw, 10, 64)
	}
	if r.MultipartForm != nil {
		for _, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				up, err := readUpload(fh)
				if err != nil {
					return in, err
				}
				in.Uploads = append(in.Uploads, up)
			}
		}
	}
	return in, nil
}

func readUpload(fh *multipart.FileHeader) (upstream.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return upstream.Upload{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, uploadMaxBytes))
	if err != nil {
		return upstream.Upload{}, err
	}
	return upstream.Upload{Filename: fh.Filename, Data: data}, nil
}

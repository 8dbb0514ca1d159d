package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"kestrel-irp/config"
	"kestrel-irp/core/auth"
	"kestrel-irp/core/store"
	"kestrel-irp/core/utils"
)

type AccountsHandler struct {
	cfg      *config.AppConfig
	users    store.UsersStore
	sessions store.SessionStore
	audits   store.AuditStore
	logger   *utils.Logger
}

func NewAccountsHandler(cfg *config.AppConfig, users store.UsersStore, sessions store.SessionStore, audits store.AuditStore, logger *utils.Logger) *AccountsHandler {
	return &AccountsHandler{cfg: cfg, users: users, sessions: sessions, audits: audits, logger: logger}
}

func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	items := make([]map[string]any, 0, len(users))
	for i := range users {
		items = append(items, userDTO(&users[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *AccountsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
		Role     string `json:"role"`
		AreaID   int64  `json:"area_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	body.Username = strings.ToLower(strings.TrimSpace(body.Username))
	if err := utils.ValidateUsername(body.Username); err != nil {
		writeError(w, http.StatusBadRequest, "accounts.bad_username", "accounts.usernamePolicy")
		return
	}
	if err := utils.ValidatePassword(body.Password); err != nil {
		writeError(w, http.StatusBadRequest, "accounts.weak_password", "accounts.passwordPolicy")
		return
	}
	switch strings.ToLower(strings.TrimSpace(body.Role)) {
	case "admin", "hq", "area":
	default:
		writeError(w, http.StatusBadRequest, "accounts.bad_role", "accounts.unknownRole")
		return
	}
	if existing, err := h.users.FindByUsername(r.Context(), body.Username); err == nil && existing != nil {
		writeError(w, http.StatusConflict, "accounts.duplicate", "accounts.usernameTaken")
		return
	}
	hash, err := utils.HashPassword(body.Password, h.cfg.Pepper)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	user := &store.User{
		Username:     body.Username,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(body.FullName),
		Role:         strings.ToLower(strings.TrimSpace(body.Role)),
		AreaID:       body.AreaID,
		Active:       true,
	}
	if _, err := h.users.Create(r.Context(), user); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Append(r.Context(), actorName(r), "accounts.create", user.Username)
	writeJSON(w, http.StatusCreated, userDTO(user))
}

func (h *AccountsHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	user, err := h.users.Get(r.Context(), id)
	if err != nil || user == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := h.users.SetActive(r.Context(), id, body.Active); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !body.Active {
		// deactivation kills live sessions on the next request via the
		// session middleware's active check
		_, _ = h.sessions.DeleteExpired(r.Context(), utils.NowUTC())
	}
	_ = h.audits.Append(r.Context(), actorName(r), "accounts.set_active", user.Username)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "active": body.Active})
}

func (h *AccountsHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := utils.ValidatePassword(body.Password); err != nil {
		writeError(w, http.StatusBadRequest, "accounts.weak_password", "accounts.passwordPolicy")
		return
	}
	user, err := h.users.Get(r.Context(), id)
	if err != nil || user == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	hash, err := utils.HashPassword(body.Password, h.cfg.Pepper)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if err := h.users.SetPassword(r.Context(), id, hash); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = h.audits.Append(r.Context(), actorName(r), "accounts.reset_password", user.Username)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func actorName(r *http.Request) string {
	if sr := auth.FromContext(r.Context()); sr != nil {
		return sr.Username
	}
	return ""
}

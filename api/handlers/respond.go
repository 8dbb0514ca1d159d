package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"kestrel-irp/config"
	"kestrel-irp/core/upstream"
	"kestrel-irp/core/workflow"
)

const (
	SessionCookieName = "kestrel_session"
	CSRFCookieName    = "kestrel_csrf"
)

func decodeJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, i18nKey string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":     code,
			"i18n_key": i18nKey,
		},
	})
}

// writeWorkflowError maps service failures to HTTP statuses: guard
// violations are 409s carrying their i18n key, upstream rejections keep
// the backend's status, anything else is a 502.
func writeWorkflowError(w http.ResponseWriter, err error) {
	var guard *workflow.GuardError
	if errors.As(err, &guard) {
		writeError(w, http.StatusConflict, "complaints.guard", guard.Key)
		return
	}
	var up *upstream.Error
	if errors.As(err, &up) {
		status := up.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		writeError(w, status, "complaints.upstream", "complaints.upstreamRejected")
		return
	}
	writeError(w, http.StatusBadGateway, "complaints.unavailable", "complaints.backendUnavailable")
}

func clientIP(r *http.Request, cfg *config.AppConfig) string {
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	if ip == "" {
		ip = strings.TrimSpace(r.RemoteAddr)
	}
	return strings.TrimSpace(ip)
}

func isSecureRequest(r *http.Request, cfg *config.AppConfig) bool {
	return r != nil && r.TLS != nil
}

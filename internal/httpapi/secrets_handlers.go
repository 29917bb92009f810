package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"oppscout-engine/internal/secrets"
)

type SecretsHandler struct{}

type setSecretReq struct {
	Value string `json:"value"`
}

// SetByPath stores one API key in the OS keyring; expects
// /api/secrets/{name} where name is a known key.
func (h SecretsHandler) SetByPath(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/secrets/")
	if name == "" || strings.Contains(name, "/") {
		http.Error(w, "expected /api/secrets/{name}", http.StatusBadRequest)
		return
	}
	if !secrets.KnownKey(name) {
		http.Error(w, "unknown secret name", http.StatusNotFound)
		return
	}

	var req setSecretReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Value) == "" {
		http.Error(w, "value must not be empty", http.StatusBadRequest)
		return
	}

	if err := secrets.SetAPIKey(name, req.Value); err != nil {
		http.Error(w, "failed to store secret: "+err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

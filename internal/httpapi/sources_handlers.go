package httpapi

import (
	"net/http"
	"sync/atomic"

	"oppscout-engine/internal/config"
)

type SourcesHandler struct {
	CfgVal *atomic.Value // stores config.Config
}

type sourceView struct {
	Name           string `json:"name"`
	Adapter        string `json:"adapter"`
	Enabled        bool   `json:"enabled"`
	RequiresDriver bool   `json:"requires_driver"`
}

func (h SourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	cfg := h.CfgVal.Load().(config.Config)

	out := make([]sourceView, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		out = append(out, sourceView{
			Name:           s.Name,
			Adapter:        s.Adapter,
			Enabled:        s.Enabled,
			RequiresDriver: s.RequiresDriver,
		})
	}
	writeJSON(w, out)
}

package httpapi

import "net/http"

// NewMux returns the raw mux so main() can still attach /shutdown (needs srv+token).
func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	// Pipeline
	ph := PipelineHandler{Registry: d.Registry, Start: d.StartRun}
	mux.HandleFunc("/api/run-pipeline", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: ph.Run,
	}))
	mux.HandleFunc("/api/pipeline-status/", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ph.StatusByPath, // expects /api/pipeline-status/{job_id}
	}))

	// Reports
	dh := DownloadHandler{DB: d.DB, Dir: d.DownloadDir}
	mux.HandleFunc("/download/", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: dh.GetByPath, // expects /download/{filename}
	}))
	mux.HandleFunc("/api/reports", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: dh.List,
	}))

	// Config
	ch := ConfigHandler{
		CfgVal:      d.CfgVal,
		UserCfgPath: d.UserCfgPath,
		LoadCfg:     d.LoadCfg,
	}
	mux.HandleFunc("/config", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Get,
		http.MethodPut: ch.Put,
	}))
	mux.HandleFunc("/config/path", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Path,
	}))

	// Sources (read-only view over config)
	srch := SourcesHandler{CfgVal: d.CfgVal}
	mux.HandleFunc("/api/sources", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: srch.List,
	}))

	// Secrets (use cfgVal, NOT a snapshot cfg)
	sh := SecretsHandler{}
	mux.HandleFunc("/api/secrets/", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: sh.SetByPath, // expects /api/secrets/{name}
	}))

	// SSE events
	eh := EventsHandler{Hub: d.Hub}
	mux.HandleFunc("/events", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: eh.ServeSSE,
	}))

	// Health
	hh := HealthHandler{}
	mux.HandleFunc("/health", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: hh.Health,
	}))

	return mux
}

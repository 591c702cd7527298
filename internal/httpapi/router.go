package httpapi

import "net/http"

// NewMux returns the raw mux so main() can still attach /shutdown (needs srv+token).
func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	// Health
	hh := HealthHandler{}
	mux.HandleFunc("/health", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: hh.Health,
	}))

	// Postings
	ph := PostingsHandler{DB: d.DB}
	mux.HandleFunc("/postings", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ph.List,
	}))

	// Applications
	ah := ApplicationsHandler{DB: d.DB, CfgVal: d.CfgVal}
	mux.HandleFunc("/applications", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ah.List,
	}))
	mux.HandleFunc("/applications/", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: ah.RequeueByPath, // expects /applications/{id}/requeue
	}))

	// Runs
	rh := RunsHandler{DB: d.DB, CfgVal: d.CfgVal, RunStatus: d.RunStatus, Run: d.RunPipeline}
	mux.HandleFunc("/runs", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: rh.List,
	}))
	mux.HandleFunc("/runs/status", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: rh.Status,
	}))
	mux.HandleFunc("/runs/trigger", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: rh.Trigger,
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
	mux.HandleFunc("/config/validate", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Validate,
	}))

	// Secrets (use cfgVal, NOT a snapshot cfg)
	sh := SecretsHandler{CfgVal: d.CfgVal}
	mux.HandleFunc("/api/secrets/portal", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: sh.SetPortalPassword,
	}))
	mux.HandleFunc("/api/secrets/smtp", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: sh.SetSMTPPassword,
	}))

	// SSE events
	eh := EventsHandler{Hub: d.Hub}
	mux.HandleFunc("/events", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: eh.ServeSSE,
	}))

	return mux
}

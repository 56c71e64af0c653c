package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"idea-tracker/internal/app"
	"idea-tracker/internal/config"
)

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

// Handler is the serverless entrypoint. The runtime is built on the first
// request and reused for the life of the instance.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		var cfg *config.Config
		cfg, initErr = config.Load(config.Options{})
		if initErr != nil {
			return
		}
		apiRuntime, initErr = app.Build(context.Background(), app.Options{Config: cfg})
	})

	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "application bootstrap failed"})
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}

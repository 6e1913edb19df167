package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/freightlane-backend/api/responses"
	"github.com/angelmondragon/freightlane-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

// Pinger is a dependency readiness depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Freightlane-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every dependency and fails on the first one that is down.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Freightlane-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}

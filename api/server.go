package api

import (
	"net/http"
	"time"

	"github.com/angelmondragon/freightlane-backend/api/routes"
	"github.com/angelmondragon/freightlane-backend/pkg/config"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

// NewServer returns the HTTP server cmd/api runs. WriteTimeout stays zero so
// position streams are not cut off.
func NewServer(cfg *config.Config, logg *logger.Logger, deps routes.Dependencies) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/freightlane-backend/api/controllers"
	"github.com/angelmondragon/freightlane-backend/api/middleware"
	"github.com/angelmondragon/freightlane-backend/internal/assignments"
	"github.com/angelmondragon/freightlane-backend/internal/capacity"
	"github.com/angelmondragon/freightlane-backend/internal/notifications"
	"github.com/angelmondragon/freightlane-backend/internal/tracking"
	"github.com/angelmondragon/freightlane-backend/internal/trips"
	"github.com/angelmondragon/freightlane-backend/pkg/config"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/redis"
)

// Dependencies is everything the HTTP surface calls into.
type Dependencies struct {
	DB            controllers.Pinger
	Redis         controllers.Pinger
	Idempotency   redis.IdempotencyStore
	Ledger        *capacity.Ledger
	Assignments   assignments.Service
	Trips         trips.Service
	Notifications notifications.Service
	Tracking      *tracking.Coordinator
	Ingestor      *tracking.Ingestor
	Metrics       prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": deps.DB,
			"redis":    deps.Redis,
		}))
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	drivers := middleware.RequireRole(logg, enums.ActorRoleDriver)
	carriers := middleware.RequireRole(logg, enums.ActorRoleDriver, enums.ActorRoleCompany)
	tripActors := middleware.RequireRole(logg, enums.ActorRoleDriver, enums.ActorRoleCompany, enums.ActorRoleShipper)
	shippers := middleware.RequireRole(logg, enums.ActorRoleShipper)

	idem := middleware.NewIdempotencyGuard(deps.Idempotency, logg)
	replayWeek := idem.For(middleware.LongReplayWindow)
	replayDay := idem.For(middleware.ShortReplayWindow)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/freight-orders/{orderId}", func(r chi.Router) {
			r.Get("/capacity", controllers.FreightOrderCapacity(deps.Ledger, logg))
			r.With(carriers, replayWeek).Post("/allocations", controllers.AllocateSlots(deps.Assignments, logg))
			r.Get("/position", controllers.FreightOrderPosition(deps.Tracking, logg))
			r.Get("/position/stream", controllers.StreamFreightOrderPosition(deps.Tracking, logg))
		})

		r.Route("/assignments", func(r chi.Router) {
			r.With(drivers).Get("/", controllers.ListAssignments(deps.Assignments, logg))
			r.Route("/{assignmentId}", func(r chi.Router) {
				r.Get("/", controllers.GetAssignment(deps.Trips, logg))
				r.With(tripActors, replayWeek).Post("/transitions", controllers.TransitionAssignment(deps.Trips, logg))
				r.With(drivers).Post("/progress", controllers.RecordAssignmentProgress(deps.Trips, logg))
				r.With(shippers, replayWeek).Post("/confirm-delivery", controllers.ConfirmDelivery(deps.Trips, logg))
				r.With(drivers, replayDay).Post("/rating", controllers.RateAssignment(deps.Assignments, logg))
				r.Get("/position/stream", controllers.StreamAssignmentPosition(deps.Tracking, logg))
			})
		})

		r.With(drivers).Post("/drivers/me/location", controllers.ReportDriverLocation(deps.Ingestor, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
			r.With(replayDay).Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
		})
	})

	return r
}

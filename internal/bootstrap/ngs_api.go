package bootstrap

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"

	ngshttp "github.com/kapella-hub/ngs/adapter/in/http"
	"github.com/kapella-hub/ngs/config"
	"github.com/kapella-hub/ngs/infra/middleware"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// NewAPI wires the review API onto an already-built dependency graph.
// The API is an internal operator surface and carries no auth layer;
// deploy it behind the network boundary.
func NewAPI(cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "ngs",
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: !cfg.IsDevelopment(),

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
		BodyLimit:       4 * 1024 * 1024,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	healthHandler := ngshttp.NewHealthHandler(deps.DB, deps.Redis)
	healthHandler.Register(app)

	api := app.Group("/api/v1")

	ngshttp.NewIncidentHandler(deps.Incidents, deps.Events).Register(api)
	ngshttp.NewQuarantineHandler(deps.QuarantineReview).Register(api)
	ngshttp.NewDLQHandler(deps.DLQReview).Register(api)
	ngshttp.NewMaintenanceHandler(deps.Maintenance).Register(api)
	ngshttp.NewConfigHandler(deps.ConfigVersions).Register(api)

	logger.Info("review api initialized")
	return app
}

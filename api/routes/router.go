package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tant/service-center-backend/api/controllers"
	"github.com/tant/service-center-backend/api/middleware"
	allocationsvc "github.com/tant/service-center-backend/internal/allocation"
	documentsvc "github.com/tant/service-center-backend/internal/documents"
	lifecyclesvc "github.com/tant/service-center-backend/internal/lifecycle"
	registrysvc "github.com/tant/service-center-backend/internal/registry"
	rmasvc "github.com/tant/service-center-backend/internal/rma"
	"github.com/tant/service-center-backend/internal/stock"
	warehousesvc "github.com/tant/service-center-backend/internal/warehouses"
	"github.com/tant/service-center-backend/pkg/config"
	"github.com/tant/service-center-backend/pkg/db"
	"github.com/tant/service-center-backend/pkg/logger"
	pkgredis "github.com/tant/service-center-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           db.Pinger
	Redis        *pkgredis.Client
	PromGatherer prometheus.Gatherer

	Warehouses warehousesvc.Service
	Documents  documentsvc.Service
	Lifecycle  lifecyclesvc.Service
	Allocation allocationsvc.Service
	Registry   registrysvc.Service
	RMA        rmasvc.Service
	StockRepo  *stock.Repository
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins...),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	if deps.PromGatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.PromGatherer, promhttp.HandlerOpts{}))
	}

	// A typed nil would defeat the middleware's nil check.
	var idemStore pkgredis.IdempotencyStore
	if deps.Redis != nil {
		idemStore = deps.Redis
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Route("/warehouses", func(r chi.Router) {
			r.Get("/", controllers.ListWarehouses(deps.Warehouses, logg))
			r.With(middleware.RequireApprover(logg)).Post("/", controllers.CreateWarehouse(deps.Warehouses, logg))
			r.Get("/{id}", controllers.GetWarehouse(deps.Warehouses, logg))
			r.Get("/{id}/stock", controllers.ListWarehouseStock(deps.StockRepo, logg))
			r.Get("/{id}/units", controllers.ListWarehouseUnits(deps.Registry, logg))
		})

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", controllers.ListDocuments(deps.Documents, logg))
			r.Post("/", controllers.CreateDocument(deps.Documents, logg))
			r.Get("/{id}", controllers.GetDocument(deps.Documents, logg))
			r.Post("/{id}/lines", controllers.AddDocumentLine(deps.Documents, logg))
			r.Delete("/{id}/lines/{lineID}", controllers.RemoveDocumentLine(deps.Documents, logg))

			r.Post("/{id}/submit", controllers.SubmitDocument(deps.Lifecycle, logg))
			r.Post("/{id}/cancel", controllers.CancelDocument(deps.Lifecycle, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireApprover(logg))
				r.Post("/{id}/approve", controllers.ApproveDocument(deps.Lifecycle, logg))
				r.Post("/{id}/reject", controllers.RejectDocument(deps.Lifecycle, logg))
				r.Post("/{id}/complete", controllers.CompleteDocument(deps.Lifecycle, logg))
				r.Post("/{id}/confirm-received", controllers.ConfirmDocumentReceived(deps.Lifecycle, logg))
			})
		})

		r.Route("/lines/{lineID}/bindings", func(r chi.Router) {
			r.Post("/", controllers.BindSerial(deps.Allocation, logg))
			r.Delete("/{serial}", controllers.UnbindSerial(deps.Allocation, logg))
		})

		r.Route("/serials/{serial}", func(r chi.Router) {
			r.Get("/", controllers.LookupSerial(deps.Registry, logg))
			r.With(middleware.RequireApprover(logg)).Post("/relocate", controllers.RelocateSerial(deps.Registry, logg))
		})

		r.Route("/rma-batches", func(r chi.Router) {
			r.Get("/", controllers.ListRMABatches(deps.RMA, logg))
			r.Post("/", controllers.CreateRMABatch(deps.RMA, logg))
			r.Get("/{id}", controllers.GetRMABatch(deps.RMA, logg))
			r.Get("/{id}/units", controllers.ListRMABatchUnits(deps.RMA, logg))
			r.Post("/{id}/units", controllers.AddRMABatchUnits(deps.RMA, logg))
			r.Delete("/{id}/units", controllers.RemoveRMABatchUnits(deps.RMA, logg))
			r.Post("/{id}/finalize", controllers.FinalizeRMABatch(deps.RMA, logg))
			r.Post("/{id}/cancel", controllers.CancelRMABatch(deps.RMA, logg))
			r.With(middleware.RequireApprover(logg)).Post("/{id}/complete", controllers.CompleteRMABatch(deps.RMA, logg))
		})
	})

	return r
}

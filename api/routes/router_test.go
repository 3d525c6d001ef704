package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tant/service-center-backend/internal/allocation"
	documentsvc "github.com/tant/service-center-backend/internal/documents"
	"github.com/tant/service-center-backend/internal/lifecycle"
	"github.com/tant/service-center-backend/internal/registry"
	"github.com/tant/service-center-backend/internal/rma"
	"github.com/tant/service-center-backend/internal/stock"
	warehousesvc "github.com/tant/service-center-backend/internal/warehouses"
	"github.com/tant/service-center-backend/pkg/auth"
	"github.com/tant/service-center-backend/pkg/config"
	"github.com/tant/service-center-backend/pkg/db/models"
	"github.com/tant/service-center-backend/pkg/enums"
	"github.com/tant/service-center-backend/pkg/logger"
	"github.com/tant/service-center-backend/pkg/outbox"
)

type txClient struct {
	db *gorm.DB
}

func (c txClient) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.db.WithContext(ctx).Transaction(fn)
}

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "issuer",
			ExpirationMinutes: 60,
		},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) (http.Handler, *gorm.DB) {
	t.Helper()

	dsn := "file:routes_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Warehouse{},
		&models.Product{},
		&models.PhysicalUnit{},
		&models.StockDocument{},
		&models.DocumentLine{},
		&models.SerialBinding{},
		&models.StockLevel{},
		&models.RMABatch{},
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate models: %v", err)
	}

	logg := logger.New(logger.Options{ServiceName: "routes-test", Output: io.Discard})
	client := txClient{db: db}
	outboxSvc := outbox.NewService(outbox.NewRepository(db), logg)

	warehouseSvc, err := warehousesvc.NewService(warehousesvc.NewRepository(db))
	if err != nil {
		t.Fatalf("build warehouse service: %v", err)
	}
	documentSvc, err := documentsvc.NewService(documentsvc.NewRepository(db), client)
	if err != nil {
		t.Fatalf("build document service: %v", err)
	}
	registrySvc, err := registry.NewService(registry.NewRepository(db), client)
	if err != nil {
		t.Fatalf("build registry service: %v", err)
	}
	stockRepo := stock.NewRepository(db)
	lifecycleSvc, err := lifecycle.NewService(lifecycle.NewRepository(db), client, registrySvc, stockRepo, outboxSvc, nil)
	if err != nil {
		t.Fatalf("build lifecycle service: %v", err)
	}
	allocationSvc, err := allocation.NewService(allocation.NewRepository(db), client, registrySvc, lifecycleSvc)
	if err != nil {
		t.Fatalf("build allocation service: %v", err)
	}
	rmaSvc, err := rma.NewService(rma.NewRepository(db), client, documentSvc, allocationSvc, lifecycleSvc, warehousesvc.NewRepository(db), outboxSvc)
	if err != nil {
		t.Fatalf("build rma service: %v", err)
	}

	router := NewRouter(Deps{
		Config:     cfg,
		Logger:     logg,
		DB:         stubPinger{},
		Redis:      nil,
		Warehouses: warehouseSvc,
		Documents:  documentSvc,
		Lifecycle:  lifecycleSvc,
		Allocation: allocationSvc,
		Registry:   registrySvc,
		RMA:        rmaSvc,
		StockRepo:  stockRepo,
	})
	return router, db
}

func buildToken(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(cfg.JWT, time.Now(), auth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestHealthProbes(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t, testConfig())

	for _, path := range []string{"/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s got %d", path, resp.Code)
		}
	}
}

func TestAPIGroupRejectsMissingJWT(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/warehouses", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestApproverRoutesRequireRole(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	router, _ := newTestRouter(t, cfg)

	body := bytes.NewBufferString(`{"name":"Main","code":"MAIN-1","type":"main"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/warehouses", body)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ActorRoleTechnician))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for technician got %d", resp.Code)
	}

	body = bytes.NewBufferString(`{"name":"Main","code":"MAIN-1","type":"main"}`)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/warehouses", body)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ActorRoleManager))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 for manager got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestDocumentFlowOverHTTP(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	router, db := newTestRouter(t, cfg)

	warehouseID := uuid.New()
	productID := uuid.New()
	if err := db.Create(&models.Warehouse{ID: warehouseID, Name: "Main", Code: "MAIN-HTTP", Type: enums.WarehouseTypeMain}).Error; err != nil {
		t.Fatalf("seed warehouse: %v", err)
	}
	if err := db.Create(&models.Product{ID: productID, SKU: "SKU-HTTP", Name: "Router Widget"}).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	managerToken := buildToken(t, cfg, enums.ActorRoleManager)
	do := func(method, path, payload string) *httptest.ResponseRecorder {
		var body io.Reader
		if payload != "" {
			body = bytes.NewBufferString(payload)
		}
		req := httptest.NewRequest(method, path, body)
		req.Header.Set("Authorization", "Bearer "+managerToken)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	createPayload := `{"kind":"receipt","dest_warehouse_id":"` + warehouseID.String() + `","lines":[{"product_id":"` + productID.String() + `","declared_qty":1}]}`
	resp := do(http.MethodPost, "/api/v1/documents", createPayload)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating document got %d: %s", resp.Code, resp.Body.String())
	}

	var created struct {
		Data struct {
			ID    uuid.UUID `json:"ID"`
			Lines []struct {
				ID uuid.UUID `json:"ID"`
			} `json:"Lines"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	docID := created.Data.ID
	if docID == uuid.Nil || len(created.Data.Lines) != 1 {
		t.Fatalf("unexpected create payload: %s", resp.Body.String())
	}
	lineID := created.Data.Lines[0].ID

	if resp := do(http.MethodPost, "/api/v1/documents/"+docID.String()+"/submit", ""); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 submitting got %d: %s", resp.Code, resp.Body.String())
	}
	if resp := do(http.MethodPost, "/api/v1/documents/"+docID.String()+"/approve", ""); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 approving got %d: %s", resp.Code, resp.Body.String())
	}
	if resp := do(http.MethodPost, "/api/v1/lines/"+lineID.String()+"/bindings", `{"serial":"SN-ROUTER-1"}`); resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 binding got %d: %s", resp.Code, resp.Body.String())
	}

	// Binding the last declared unit auto-completes the receipt.
	var doc models.StockDocument
	if err := db.First(&doc, "id = ?", docID).Error; err != nil {
		t.Fatalf("load document: %v", err)
	}
	if doc.Status != enums.DocumentStatusCompleted {
		t.Fatalf("expected completed document got %s", doc.Status)
	}

	if resp := do(http.MethodGet, "/api/v1/serials/SN-ROUTER-1", ""); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for serial lookup got %d: %s", resp.Code, resp.Body.String())
	}
}

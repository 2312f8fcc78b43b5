package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hotspotd/config"
	"hotspotd/internal/db"
	"hotspotd/internal/health"
	"hotspotd/internal/logs"
	"hotspotd/internal/middleware"
	"hotspotd/internal/mikrotik"
	"hotspotd/internal/models"
	"hotspotd/internal/repo"
	"hotspotd/internal/voucher"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type App struct {
	cfg        *config.Config
	Router     *mux.Router
	httpServer *http.Server

	db     *gorm.DB
	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	// 1) Логи
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	// 2) БД (опционально: без БД поднимается только proxy-поверхность)
	if drv := a.cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, a.cfg.Database.DSN)
		if err != nil {
			log.Fatalf("db open failed: %v", err)
		}
		a.db = d
	}

	// ---- DB migrations (only if DB is connected) ----
	if a.db != nil {
		if err := a.db.AutoMigrate(
			&models.Router{},
			&models.VoucherPackage{},
			&models.Voucher{},
			&models.Sale{},
		); err != nil {
			logs.Logger.Errorf("automigrate: %v", err)
		}
		// уникальность кода в пределах роутера с учётом soft-delete
		if err := db.MigrateVoucherCodeIndex(a.db); err != nil {
			logs.Logger.Warnf("voucher code index migration: %v", err)
		}
	}

	// 3) Роутер + middleware
	a.Router = mux.NewRouter()
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(middleware.LoggerMW)

	// 4) Health маршруты
	if a.db != nil {
		health.RegisterRoutesWithDB(a.Router, a.db) // /healthz и /readyz
	} else {
		health.RegisterRoutes(a.Router) // только /healthz
	}

	// 5) Probe + proxy-поверхность MikroTik (работает и без БД)
	probe := mikrotik.NewProbe(
		mikrotik.DialRouterOS(a.cfg.Mikrotik.TLSSkipVerify),
		time.Duration(a.cfg.Mikrotik.DialTimeoutSec)*time.Second,
	)
	mikrotik.NewHTTP(probe).RegisterRoutes(a.Router)

	// 6) Ledger, провижионер и реестр роутеров (нужна БД)
	if a.db != nil {
		ledger := voucher.NewLedger(a.db)
		prov := voucher.NewProvisioner(ledger, voucher.ProbeConnector{Probe: probe})
		voucher.NewHTTP(ledger, prov).RegisterRoutes(a.Router)

		rs := repo.NewRouterStore(a.db)
		repo.NewRouterHTTP(rs, probe).RegisterRoutes(a.Router)
	}

	a.Router.Walk(func(rt *mux.Route, r *mux.Router, ancestors []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return ErrNotInitialized
	}
	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigs; a.cancel() }()

	a.httpServer = &http.Server{
		Addr:         bind,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // большая партия подключается и пушится дольше обычного запроса
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.httpServer.Shutdown(ctx)
	return nil
}

var ErrNotInitialized = &initError{"server not initialized (call Initialize(cfg) first)"}

type initError struct{ s string }

func (e *initError) Error() string { return e.s }

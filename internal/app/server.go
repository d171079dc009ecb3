package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	cartHttp "github.com/tomarrohitt/e-commerce-sub000/internal/cart/infra/inbound/http"
	catalogHttp "github.com/tomarrohitt/e-commerce-sub000/internal/catalog/infra/inbound/http"
	identityHttp "github.com/tomarrohitt/e-commerce-sub000/internal/identity/infra/inbound/http"
	invoiceHttp "github.com/tomarrohitt/e-commerce-sub000/internal/invoice/infra/inbound/http"
	opsHttp "github.com/tomarrohitt/e-commerce-sub000/internal/ops/infra/inbound/http"
	ordersHttp "github.com/tomarrohitt/e-commerce-sub000/internal/orders/infra/inbound/http"
	sharedBus "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/bus"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/circuitbreaker"
)

const shutdownTimeout = 15 * time.Second

// Health es el cuerpo de GET /health.
type Health struct {
	Status   string                          `json:"status"`
	Database string                          `json:"database"`
	Bus      string                          `json:"bus"`
	Breakers map[string]circuitbreaker.State `json:"breakers"`
	// FailedOutbox cuenta filas FAILED por servicio.
	FailedOutbox map[string]int `json:"failedOutbox"`
}

// CheckHealth degrada a "degraded" si la BD no responde o el bus no está conectado.
// Un breaker abierto o filas FAILED se informan pero no cambian el estado.
func (a *App) CheckHealth(ctx context.Context) Health {
	h := Health{Status: "ok", Database: "up", Bus: "connected", Breakers: a.Breakers.States(), FailedOutbox: map[string]int{}}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.DB.PingContext(pingCtx); err != nil {
		h.Status, h.Database = "degraded", "down"
	}
	if reporter, ok := a.Bus.(sharedBus.HealthReporter); ok {
		state := reporter.HealthState()
		h.Bus = state.String()
		if state != sharedBus.HealthConnected {
			h.Status = "degraded"
		}
	}
	for _, name := range a.Outboxes.Services() {
		if rows, err := a.Outboxes.ListFailed(ctx, name, 100); err == nil {
			h.FailedOutbox[name] = len(rows)
		}
	}
	return h
}

func (a *App) health(c *gin.Context) {
	h := a.CheckHealth(c.Request.Context())
	status := http.StatusOK
	if h.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}

// Router monta las rutas de todos los contextos.
func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), a.requestLogger())

	identityHttp.RegisterUserRoutes(router, identityHttp.NewUserHandler(a.Users))
	catalogHttp.RegisterCatalogRoutes(router, catalogHttp.NewCatalogHandler(a.Catalog))
	ordersHttp.RegisterOrderRoutes(router, ordersHttp.NewOrderHandler(a.Orders), ordersHttp.NewAdminHandler(a.OrderAdmin))
	cartHttp.RegisterCartRoutes(router, cartHttp.NewCartHandler(a.Carts))
	invoiceHttp.RegisterInvoiceRoutes(router, invoiceHttp.NewInvoiceHandler(a.Invoices))
	opsHttp.RegisterOpsRoutes(router, opsHttp.NewOpsHandler(a.DeadLetters, a.Outboxes, a.Audit))

	router.GET("/health", a.health)
	return router
}

func (a *App) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.log.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

type RunOptions struct {
	HTTP    bool
	Workers bool
}

// Run arranca lo pedido y bloquea hasta que ctx se cancela o el servidor HTTP falla.
// Al salir para el servidor y los workers y cierra las conexiones.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	defer a.Close()

	if opts.Workers {
		if err := a.StartWorkers(ctx); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	var srv *http.Server
	if opts.HTTP {
		srv = &http.Server{Addr: ":" + a.cfg.HTTPPort, Handler: a.Router(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			a.log.Info("🚀 Server running", zap.String("url", "http://localhost:"+a.cfg.HTTPPort))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if !opts.HTTP {
		// En modo worker un bus perdido termina el proceso.
		g.Go(func() error {
			select {
			case err := <-a.busLost:
				return fmt.Errorf("event bus lost: %w", err)
			case <-gctx.Done():
				return nil
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if srv != nil {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		if opts.Workers {
			errs = append(errs, a.StopWorkers(shutdownCtx))
		}
		a.log.Info("🛑 Apagado completo")
		return errors.Join(errs...)
	})
	return g.Wait()
}

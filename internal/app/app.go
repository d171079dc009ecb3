package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	cartApp "github.com/tomarrohitt/e-commerce-sub000/internal/cart/application"
	cartDomain "github.com/tomarrohitt/e-commerce-sub000/internal/cart/domain"
	cartEvents "github.com/tomarrohitt/e-commerce-sub000/internal/cart/infra/inbound/events"
	cartDB "github.com/tomarrohitt/e-commerce-sub000/internal/cart/infra/outbound/db"
	cartStore "github.com/tomarrohitt/e-commerce-sub000/internal/cart/infra/outbound/store"
	catalogApp "github.com/tomarrohitt/e-commerce-sub000/internal/catalog/application"
	catalogEvents "github.com/tomarrohitt/e-commerce-sub000/internal/catalog/infra/inbound/events"
	catalogDB "github.com/tomarrohitt/e-commerce-sub000/internal/catalog/infra/outbound/db"
	"github.com/tomarrohitt/e-commerce-sub000/internal/config"
	identityApp "github.com/tomarrohitt/e-commerce-sub000/internal/identity/application"
	identityDB "github.com/tomarrohitt/e-commerce-sub000/internal/identity/infra/outbound/db"
	invoiceApp "github.com/tomarrohitt/e-commerce-sub000/internal/invoice/application"
	invoiceDomain "github.com/tomarrohitt/e-commerce-sub000/internal/invoice/domain"
	invoiceEvents "github.com/tomarrohitt/e-commerce-sub000/internal/invoice/infra/inbound/events"
	invoiceDB "github.com/tomarrohitt/e-commerce-sub000/internal/invoice/infra/outbound/db"
	"github.com/tomarrohitt/e-commerce-sub000/internal/invoice/infra/outbound/pdf"
	"github.com/tomarrohitt/e-commerce-sub000/internal/invoice/infra/outbound/storage"
	opsApp "github.com/tomarrohitt/e-commerce-sub000/internal/ops/application"
	opsDomain "github.com/tomarrohitt/e-commerce-sub000/internal/ops/domain"
	opsEvents "github.com/tomarrohitt/e-commerce-sub000/internal/ops/infra/inbound/events"
	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/infra/outbound/clickhouse"
	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/infra/outbound/memory"
	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/infra/outbound/mongodb"
	ordersApp "github.com/tomarrohitt/e-commerce-sub000/internal/orders/application"
	ordersDomain "github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
	ordersEvents "github.com/tomarrohitt/e-commerce-sub000/internal/orders/infra/inbound/events"
	ordersDB "github.com/tomarrohitt/e-commerce-sub000/internal/orders/infra/outbound/db"
	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/infra/outbound/identity"
	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/infra/outbound/payment"
	sharedBus "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/bus"
	sharedCache "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/cache"
	sharedDB "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/db"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/outbox"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/relayer"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/circuitbreaker"
)

// consumer es lo que exponen los adaptadores de entrada de cada contexto.
type consumer interface {
	Register(ctx context.Context, bus sharedBus.EventBus) error
}

type schema interface {
	InitSchema(ctx context.Context) error
}

// App reúne la infraestructura y los servicios de todos los contextos del proceso.
type App struct {
	cfg *config.Config
	log *zap.Logger

	DB       *sharedDB.DB
	Bus      sharedBus.EventBus
	Cache    sharedCache.Store
	rdb      *redis.Client
	Breakers *circuitbreaker.Registry

	// Sandbox sólo existe con PAYMENT_DRIVER=sandbox.
	Sandbox *payment.SandboxGateway

	Users       *identityApp.UserService
	Catalog     *catalogApp.CatalogService
	Orders      *ordersApp.OrderService
	OrderAdmin  *ordersApp.AdminService
	Carts       *cartApp.CartService
	Invoices    *invoiceApp.InvoiceService
	DeadLetters *opsApp.DeadLetterService
	Outboxes    *opsApp.OutboxAdmin
	// Audit es nil sin ClickHouse.
	Audit *opsApp.AuditRecorder

	Sweeper *ordersApp.TimeoutSweeper
	relays  []*relayer.Worker

	schemas   []schema
	consumers []consumer
	closers   []func() error
	busLost   chan error
}

// New construye todo sin arrancar nada. Los fallos de dependencias opcionales (Redis,
// MongoDB, ClickHouse, S3) degradan a la alternativa local; los de BD y bus son fatales.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log, Breakers: circuitbreaker.NewRegistry(), busLost: make(chan error, 1)}

	if err := a.openDB(ctx); err != nil {
		return nil, err
	}
	if err := a.openBus(); err != nil {
		a.Close()
		return nil, err
	}
	a.openCache(ctx)

	if err := a.buildIdentityAndCatalog(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildOrders(); err != nil {
		a.Close()
		return nil, err
	}
	a.buildCart()
	if err := a.buildInvoice(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.buildOps(ctx)
	return a, nil
}

func (a *App) breaker(name string) *circuitbreaker.Breaker {
	return a.Breakers.Add(circuitbreaker.New(circuitbreaker.Config{
		Name:             name,
		FailureThreshold: a.cfg.BreakerFailureThreshold,
		ResetTimeout:     a.cfg.BreakerResetTimeout,
		HalfOpenRequests: a.cfg.BreakerHalfOpenRequests,
	}, a.log))
}

// ---------------- Infraestructura ----------------

func (a *App) openDB(ctx context.Context) error {
	dialect := sharedDB.Dialect(a.cfg.DBDriver)
	dsn := a.cfg.DatabaseURL
	if dialect == sharedDB.SQLite {
		dsn = a.cfg.SQLitePath
	}
	d, err := sharedDB.Open(ctx, dialect, dsn)
	if err != nil {
		return err
	}
	a.DB = d
	a.closers = append(a.closers, d.Close)
	a.log.Info("✅ Base de datos conectada", zap.String("driver", string(dialect)))
	return nil
}

func (a *App) openBus() error {
	b, err := sharedBus.Open(sharedBus.Config{
		Driver:   a.cfg.BusDriver,
		Prefetch: a.cfg.BusPrefetch,
		RabbitMQ: sharedBus.RabbitMQConfig{
			URL:               a.cfg.RabbitMQURL,
			Exchange:          a.cfg.EventExchange,
			DLQExchange:       a.cfg.DLQExchange,
			DLQQueue:          a.cfg.DLQQueue,
			DLQMessageTTL:     a.cfg.DLQMessageTTL,
			ReconnectDelay:    a.cfg.BusReconnectDelay,
			MaxReconnectTries: a.cfg.BusMaxReconnectTries,
			OnGiveUp: func(err error) {
				a.log.Error("❌ Bus sin conexión tras agotar los reintentos", zap.Error(err))
				select {
				case a.busLost <- err:
				default:
				}
			},
		},
		Kafka: sharedBus.KafkaConfig{
			Brokers:  a.cfg.KafkaBrokers,
			Topic:    a.cfg.KafkaTopic,
			DLQTopic: a.cfg.KafkaDLQTopic,
		},
	}, a.log)
	if err != nil {
		return fmt.Errorf("failed to open event bus: %w", err)
	}
	a.Bus = b
	a.closers = append(a.closers, b.Close)
	a.log.Info("🚀 Bus de eventos listo", zap.String("driver", a.cfg.BusDriver))
	return nil
}

var errNoRedis = errors.New("redis unavailable")

func (a *App) openCache(ctx context.Context) {
	rdb, err := a.redis(ctx)
	a.rdb = rdb
	if err != nil {
		a.log.Warn("⚠️ Redis no disponible, cache en memoria", zap.Error(err))
		mem := sharedCache.NewInMemoryCache(a.cfg.CacheTTL, 3*a.cfg.CacheTTL)
		a.Cache = mem
		a.closers = append(a.closers, func() error { mem.Stop(); return nil })
		return
	}
	a.Cache = sharedCache.NewRedisCache(rdb, a.cfg.CacheTTL)
	a.log.Info("✅ Redis conectado, cache habilitado")
}

func (a *App) redis(ctx context.Context) (*redis.Client, error) {
	if a.cfg.RedisAddr == "" {
		return nil, errNoRedis
	}
	rdb := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	return rdb, nil
}

// ---------------- Contextos ----------------

func (a *App) buildIdentityAndCatalog() error {
	users := identityDB.NewUserRepo(a.DB)
	a.Users = identityApp.NewUserService(users, a.Cache, a.log.With(zap.String("service", "identity")))

	products := catalogDB.NewProductRepo(a.DB)
	purchases := catalogDB.NewPurchaseRepo(a.DB)
	catalogLog := a.log.With(zap.String("service", "catalog"))
	a.Catalog = catalogApp.NewCatalogService(products, products, purchases, catalogLog)

	a.schemas = append(a.schemas, users, products, purchases)
	a.consumers = append(a.consumers, catalogEvents.NewCatalogConsumer(a.Catalog, catalogLog))
	a.addRelay("identity", users.Outbox())
	a.addRelay("catalog", products.Outbox())
	return nil
}

func (a *App) buildOrders() error {
	ordersLog := a.log.With(zap.String("service", "orders"))
	repo := ordersDB.NewOrderRepo(a.DB)

	gateway, err := a.paymentGateway()
	if err != nil {
		return err
	}

	var users ordersDomain.UserDirectory
	if a.cfg.IdentityURL != "" {
		users = identity.NewHTTPClient(a.cfg.IdentityURL, 3*time.Second, a.breaker("identity"))
	} else {
		users = identity.NewLocalClient(a.Users, a.breaker("identity"))
	}

	taxRate := decimal.NewFromFloat(a.cfg.TaxRate)
	a.Orders = ordersApp.NewOrderService(repo, gateway, users, a.Cache, taxRate, "usd", ordersLog)
	a.OrderAdmin = ordersApp.NewAdminService(repo, gateway, ordersLog)
	a.Sweeper = ordersApp.NewTimeoutSweeper(repo, ordersApp.SweeperOptions{
		Interval:  a.cfg.SweeperInterval,
		Timeout:   a.cfg.OrderTimeout,
		BatchSize: a.cfg.SweeperBatchSize,
	}, ordersLog)

	a.schemas = append(a.schemas, repo)
	a.consumers = append(a.consumers,
		ordersEvents.NewOrderConsumer(a.Orders, ordersApp.NewInventorySync(a.Cache, ordersLog), ordersLog))
	a.addRelay("orders", repo.Outbox())
	return nil
}

func (a *App) paymentGateway() (ordersDomain.PaymentGateway, error) {
	var inner ordersDomain.PaymentGateway
	switch a.cfg.PaymentDriver {
	case "stripe":
		if a.cfg.StripeSecretKey == "" {
			return nil, errors.New("STRIPE_SECRET_KEY is required with PAYMENT_DRIVER=stripe")
		}
		inner = payment.NewStripeGateway(a.cfg.StripeSecretKey, a.cfg.StripeWebhookSecret)
	case "sandbox", "":
		a.Sandbox = payment.NewSandboxGateway(a.cfg.StripeWebhookSecret)
		inner = a.Sandbox
		a.log.Warn("⚠️ Pasarela de pagos en modo sandbox")
	default:
		return nil, fmt.Errorf("unsupported payment driver %q", a.cfg.PaymentDriver)
	}
	return payment.WithBreaker(inner, a.breaker("payments")), nil
}

func (a *App) buildCart() {
	cartLog := a.log.With(zap.String("service", "cart"))
	replicas := cartDB.NewReplicaRepo(a.DB)

	var store cartDomain.CartStore
	if a.rdb != nil {
		store = cartStore.NewRedisStore(a.rdb)
	} else {
		cartLog.Warn("⚠️ Carritos en memoria, se pierden al reiniciar")
		store = cartStore.NewMemoryStore()
	}

	a.Carts = cartApp.NewCartService(store, replicas, decimal.NewFromFloat(a.cfg.TaxRate), cartLog)
	a.schemas = append(a.schemas, replicas)
	a.consumers = append(a.consumers, cartEvents.NewCartConsumer(a.Carts, cartLog))
}

func (a *App) buildInvoice(ctx context.Context) error {
	invoiceLog := a.log.With(zap.String("service", "invoice"))
	repo := invoiceDB.NewInvoiceRepo(a.DB)

	var objects invoiceDomain.ObjectStorage
	if a.cfg.S3Bucket != "" {
		s3, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          a.cfg.S3Bucket,
			Region:          a.cfg.S3Region,
			Endpoint:        a.cfg.S3Endpoint,
			PublicURL:       a.cfg.S3PublicURL,
			AccessKeyID:     a.cfg.S3AccessKeyID,
			SecretAccessKey: a.cfg.S3SecretKey,
		}, a.breaker("s3"))
		if err != nil {
			return fmt.Errorf("failed to configure s3: %w", err)
		}
		objects = s3
		invoiceLog.Info("✅ Facturas en S3", zap.String("bucket", a.cfg.S3Bucket))
	} else {
		objects = storage.NewFilesystemStorage(a.cfg.InvoiceLocalDir, "")
		invoiceLog.Warn("⚠️ Facturas en disco local", zap.String("dir", a.cfg.InvoiceLocalDir))
	}

	a.Invoices = invoiceApp.NewInvoiceService(repo, objects, pdf.NewRenderer(a.cfg.AppName), invoiceLog)
	a.schemas = append(a.schemas, repo)
	a.consumers = append(a.consumers, invoiceEvents.NewInvoiceConsumer(a.Invoices, invoiceLog))
	a.addRelay("invoice", repo.Outbox())
	return nil
}

func (a *App) buildOps(ctx context.Context) {
	opsLog := a.log.With(zap.String("service", "ops"))

	var archive opsDomain.DeadLetterStore = memory.NewDeadLetterStore()
	if a.cfg.MongoURI != "" {
		if repo, err := a.mongoArchive(ctx); err != nil {
			opsLog.Warn("⚠️ MongoDB no disponible, DLQ archivada en memoria", zap.Error(err))
		} else {
			archive = repo
			opsLog.Info("✅ DLQ archivada en MongoDB", zap.String("db", a.cfg.MongoDB))
		}
	}
	a.DeadLetters = opsApp.NewDeadLetterService(archive, a.Bus, opsLog)

	if a.cfg.ClickHouseAddr != "" {
		conn, err := clickhouse.Open(a.cfg.ClickHouseAddr, a.cfg.ClickHouseDB)
		if err != nil {
			opsLog.Warn("⚠️ ClickHouse no disponible, auditoría desactivada", zap.Error(err))
		} else {
			repo := clickhouse.NewAuditRepo(conn)
			a.closers = append(a.closers, conn.Close)
			a.schemas = append(a.schemas, repo)
			a.Audit = opsApp.NewAuditRecorder(repo, opsApp.AuditOptions{}, opsLog)
			a.consumers = append(a.consumers, opsEvents.NewAuditConsumer(a.Audit))
		}
	}
}

func (a *App) mongoArchive(ctx context.Context) (*mongodb.DeadLetterRepo, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := mongodb.Connect(connectCtx, a.cfg.MongoURI)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return client.Disconnect(context.Background()) })

	repo := mongodb.NewDeadLetterRepo(client.Database(a.cfg.MongoDB).Collection(mongodb.Collection))
	if err := repo.InitIndexes(connectCtx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (a *App) addRelay(name string, store *outbox.SQLStore) {
	if a.Outboxes == nil {
		a.Outboxes = opsApp.NewOutboxAdmin(nil, a.log)
	}
	a.Outboxes.Add(name, store)
	a.relays = append(a.relays, relayer.NewOutboxWorker(name, store, a.Bus, relayer.Options{
		Interval:     a.cfg.OutboxPeriod,
		BatchSize:    a.cfg.OutboxLimit,
		LeaseTimeout: a.cfg.OutboxLeaseTimeout,
		Breaker:      a.breaker("relay-" + name),
	}, a.log))
}

// ---------------- Ciclo de vida ----------------

// Migrate crea las tablas de todos los contextos. Es idempotente.
func (a *App) Migrate(ctx context.Context) error {
	for _, s := range a.schemas {
		if err := s.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	a.log.Info("✅ Esquemas inicializados", zap.Int("count", len(a.schemas)))
	return nil
}

// StartWorkers registra los consumidores y arranca relays, sweeper y auditoría.
func (a *App) StartWorkers(ctx context.Context) error {
	for _, c := range a.consumers {
		if err := c.Register(ctx, a.Bus); err != nil {
			return fmt.Errorf("failed to register consumer: %w", err)
		}
	}
	if source, ok := a.Bus.(sharedBus.DeadLetterSource); ok {
		if err := a.DeadLetters.Consume(ctx, source); err != nil {
			return fmt.Errorf("failed to consume dead letters: %w", err)
		}
	}
	for _, r := range a.relays {
		r.Start()
	}
	a.Sweeper.Start()
	if a.Audit != nil {
		a.Audit.Start()
	}
	a.log.Info("🎧 Workers arrancados", zap.Int("consumers", len(a.consumers)), zap.Int("relays", len(a.relays)))
	return nil
}

// StopWorkers para relays, sweeper y auditoría esperando a la iteración en curso.
func (a *App) StopWorkers(ctx context.Context) error {
	var errs []error
	for _, r := range a.relays {
		errs = append(errs, r.Stop(ctx))
	}
	errs = append(errs, a.Sweeper.Stop(ctx))
	if a.Audit != nil {
		errs = append(errs, a.Audit.Stop(ctx))
	}
	return errors.Join(errs...)
}

// Close libera conexiones en orden inverso a su apertura.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

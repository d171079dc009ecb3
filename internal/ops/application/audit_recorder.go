package application

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

type AuditOptions struct {
	FlushInterval time.Duration
	BatchSize     int
	// MaxBuffer acota lo retenido si el almacén no responde; se descartan los más antiguos.
	MaxBuffer int
}

// AuditRecorder acumula entradas y las escribe por lotes.
type AuditRecorder struct {
	store domain.AuditStore
	opts  AuditOptions
	log   *zap.Logger

	bufMu sync.Mutex
	buf   []domain.AuditEntry

	// flushMu serializa las escrituras.
	flushMu sync.Mutex

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewAuditRecorder(store domain.AuditStore, opts AuditOptions, log *zap.Logger) *AuditRecorder {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.MaxBuffer < opts.BatchSize {
		opts.MaxBuffer = opts.BatchSize * 20
	}
	return &AuditRecorder{store: store, opts: opts, log: log.With(zap.String("component", "audit"))}
}

// EntryFromEvent extrae el orderId del payload cuando lo hay; si no, se usa el agregado.
func EntryFromEvent(evt events.Event) domain.AuditEntry {
	var ref struct {
		OrderID string `json:"orderId"`
	}
	_ = json.Unmarshal(evt.Data, &ref)

	orderID := ref.OrderID
	if orderID == "" && strings.HasPrefix(evt.EventType, "order.") {
		orderID = evt.AggregateID
	}
	return domain.AuditEntry{
		EventID:     evt.EventID,
		EventType:   evt.EventType,
		AggregateID: evt.AggregateID,
		OrderID:     orderID,
		OccurredAt:  evt.Timestamp.UTC(),
		RecordedAt:  time.Now().UTC(),
		Data:        string(evt.Data),
	}
}

// Record no bloquea en la escritura salvo cuando el lote se llena.
func (r *AuditRecorder) Record(ctx context.Context, evt events.Event) error {
	r.bufMu.Lock()
	r.buf = append(r.buf, EntryFromEvent(evt))
	r.trimLocked()
	full := len(r.buf) >= r.opts.BatchSize
	r.bufMu.Unlock()

	if full {
		r.Flush(ctx)
	}
	return nil
}

// Flush escribe lo acumulado. Si falla, las entradas vuelven al buffer para el siguiente intento.
func (r *AuditRecorder) Flush(ctx context.Context) int {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.bufMu.Lock()
	batch := r.buf
	r.buf = nil
	r.bufMu.Unlock()
	if len(batch) == 0 {
		return 0
	}

	if err := r.store.InsertBatch(ctx, batch); err != nil {
		r.log.Warn("⚠️ Audit flush failed", zap.Int("entries", len(batch)), zap.Error(err))
		r.bufMu.Lock()
		r.buf = append(batch, r.buf...)
		r.trimLocked()
		r.bufMu.Unlock()
		return 0
	}
	r.log.Debug("Audit batch written", zap.Int("entries", len(batch)))
	return len(batch)
}

// trimLocked descarta las entradas más antiguas por encima de MaxBuffer. Requiere bufMu.
func (r *AuditRecorder) trimLocked() {
	if over := len(r.buf) - r.opts.MaxBuffer; over > 0 {
		r.buf = r.buf[over:]
		r.log.Warn("⚠️ Audit buffer lleno, se descartan entradas", zap.Int("dropped", over))
	}
}

func (r *AuditRecorder) Pending() int {
	r.bufMu.Lock()
	defer r.bufMu.Unlock()
	return len(r.buf)
}

func (r *AuditRecorder) Timeline(ctx context.Context, orderID string) ([]domain.AuditEntry, error) {
	return r.store.Timeline(ctx, orderID)
}

func (r *AuditRecorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go r.loop(r.stop, r.done)
	r.log.Info("🚀 Audit recorder iniciado", zap.Duration("interval", r.opts.FlushInterval))
}

// Stop hace un último flush antes de volver.
func (r *AuditRecorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		r.Flush(ctx)
		r.log.Info("🛑 Audit recorder detenido.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AuditRecorder) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Flush(context.Background())
		}
	}
}

package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

// Pasos de la saga que posee Orders. Todos releen el pedido antes de actuar y convierten los
// estados no aplicables en no-ops: el bus entrega al menos una vez.

func parseOrderID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, events.Fatal(fmt.Errorf("invalid order id %q: %w", raw, err))
	}
	return id, nil
}

// loadOrder lee el pedido; un pedido inexistente es fatal (el evento no tiene a quién aplicar).
func (s *OrderService) loadOrder(ctx context.Context, raw string) (*domain.Order, error) {
	id, err := parseOrderID(raw)
	if err != nil {
		return nil, err
	}
	o, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, events.Fatal(err)
	}
	if err != nil {
		return nil, events.Retryable(err)
	}
	return o, nil
}

// OnStockReserved pasa el pedido a AWAITING_PAYMENT.
func (s *OrderService) OnStockReserved(ctx context.Context, evt events.StockReservedData) error {
	id, err := parseOrderID(evt.OrderID)
	if err != nil {
		return err
	}
	applied, err := s.repo.TransitionStatus(ctx, id,
		[]domain.Status{domain.StatusCreated, domain.StatusPending}, domain.StatusAwaitingPayment, "")
	if err != nil {
		return events.Retryable(err)
	}
	if !applied {
		s.log.Info("stock_reserved sin efecto, el pedido ya avanzó", zap.String("order_id", evt.OrderID))
		return nil
	}
	s.log.Info("✅ Pedido esperando pago", zap.String("order_id", evt.OrderID))
	return nil
}

// OnStockFailed cancela el pedido y revierte el pago si ya se había creado.
func (s *OrderService) OnStockFailed(ctx context.Context, evt events.StockFailedData) error {
	id, err := parseOrderID(evt.OrderID)
	if err != nil {
		return err
	}
	applied, err := s.repo.TransitionStatus(ctx, id, domain.PreTerminal, domain.StatusCancelled, events.ReasonInventoryError)
	if err != nil {
		return events.Retryable(err)
	}
	if !applied {
		s.log.Info("stock_failed sin efecto, pedido ya terminal", zap.String("order_id", evt.OrderID))
		return nil
	}
	s.log.Warn("❌ Pedido cancelado por inventario", zap.String("order_id", evt.OrderID), zap.String("reason", evt.Reason))

	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return events.Retryable(err)
	}
	return s.reverse(ctx, o)
}

// OnPaymentIntentFailed cancela el pedido cuyo intent no se pudo crear.
func (s *OrderService) OnPaymentIntentFailed(ctx context.Context, evt events.PaymentIntentFailedData) error {
	id, err := parseOrderID(evt.OrderID)
	if err != nil {
		return err
	}
	applied, err := s.repo.TransitionStatus(ctx, id, domain.PreTerminal, domain.StatusCancelled, events.ReasonPaymentFailed)
	if err != nil {
		return events.Retryable(err)
	}
	if applied {
		s.log.Warn("❌ Pedido cancelado por fallo de pago", zap.String("order_id", evt.OrderID), zap.String("reason", evt.Reason))
	}
	return nil
}

// CreatePaymentIntent crea como mucho un intent por pedido.
func (s *OrderService) CreatePaymentIntent(ctx context.Context, evt events.OrderCreatedData) error {
	o, err := s.loadOrder(ctx, evt.OrderID)
	if err != nil {
		return err
	}
	if o.Status.IsTerminal() || o.PaymentID != "" {
		s.log.Info("Intent no necesario", zap.String("order_id", evt.OrderID),
			zap.String("status", string(o.Status)), zap.String("payment_id", o.PaymentID))
		return nil
	}

	intent, err := s.gateway.CreateIntent(ctx, domain.CreateIntentParams{
		OrderID:        o.ID.String(),
		UserID:         o.UserID,
		Amount:         o.TotalAmount,
		Currency:       s.currency,
		IdempotencyKey: "order-" + o.ID.String(),
	})
	if err != nil {
		if g, ok := domain.AsGatewayError(err); ok && g.Fatal() {
			s.log.Error("❌ Intent rechazado por el proveedor", zap.String("order_id", evt.OrderID), zap.Error(err))
			if err := s.repo.Enqueue(ctx, o.PaymentIntentFailedEvent(g.Message)); err != nil {
				return events.Retryable(err)
			}
			return nil
		}
		return events.Retryable(err)
	}

	o.PaymentID = intent.ID
	o.ClientSecret = intent.ClientSecret
	applied, err := s.repo.AttachPayment(ctx, o.ID, intent.ID, intent.ClientSecret, o.PaymentIntentCreatedEvent())
	if err != nil {
		return events.Retryable(err)
	}
	if applied {
		s.log.Info("✅ Intent creado", zap.String("order_id", evt.OrderID), zap.String("payment_id", intent.ID))
		return nil
	}

	// El pedido cambió mientras tanto (cancelado o con otro intent): el nuestro sobra.
	current, err := s.repo.GetByID(ctx, o.ID)
	if err != nil {
		return events.Retryable(err)
	}
	if current.PaymentID != intent.ID {
		if err := s.gateway.CancelIntent(ctx, intent.ID); err != nil {
			s.log.Warn("⚠️ No se pudo anular el intent sobrante", zap.String("payment_id", intent.ID), zap.Error(err))
		}
	}
	return nil
}

// HandleWebhook procesa las notificaciones del proveedor. Sólo payment_intent.succeeded tiene efecto.
func (s *OrderService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	evt, err := s.gateway.ConstructWebhookEvent(payload, signature)
	if err != nil {
		return err
	}
	if evt.Type != domain.WebhookPaymentSucceeded {
		s.log.Debug("Webhook ignorado", zap.String("type", evt.Type))
		return nil
	}

	id, err := uuid.Parse(evt.OrderID)
	if err != nil {
		s.log.Warn("Webhook sin pedido válido", zap.String("event_id", evt.ID), zap.String("order_id", evt.OrderID))
		return nil
	}
	o, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, domain.ErrOrderNotFound) {
		s.log.Warn("Webhook de pedido inexistente", zap.String("order_id", evt.OrderID))
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case o.PaymentID == "":
		if _, err := s.repo.AttachPayment(ctx, o.ID, evt.IntentID, ""); err != nil {
			return err
		}
		o.PaymentID = evt.IntentID
	case o.PaymentID != evt.IntentID:
		// Cobro con un intent que no es el del pedido: se devuelve.
		s.log.Warn("⚠️ Cobro con intent ajeno, se reembolsa", zap.String("order_id", evt.OrderID),
			zap.String("order_payment_id", o.PaymentID), zap.String("payment_id", evt.IntentID))
		return s.gateway.Refund(ctx, evt.IntentID, "refund-"+evt.IntentID)
	}

	if o.Status == domain.StatusCancelled {
		return s.refundCaptured(ctx, o)
	}
	if !o.Status.In(domain.PrePayment) {
		s.log.Info("Webhook sin efecto", zap.String("order_id", evt.OrderID), zap.String("status", string(o.Status)))
		return nil
	}

	applied, err := s.repo.TransitionStatus(ctx, o.ID, domain.PrePayment, domain.StatusPaid, "")
	if err != nil {
		return err
	}
	if applied {
		s.log.Info("💰 Pedido pagado", zap.String("order_id", evt.OrderID), zap.String("payment_id", evt.IntentID))
		return nil
	}

	// Perdimos la carrera contra una cancelación: el cobro se devuelve.
	current, err := s.repo.GetByID(ctx, o.ID)
	if err != nil {
		return err
	}
	if current.Status == domain.StatusCancelled {
		return s.refundCaptured(ctx, current)
	}
	return nil
}

// ReversePayment compensa el pago de un pedido cancelado.
func (s *OrderService) ReversePayment(ctx context.Context, evt events.OrderCancelledData) error {
	o, err := s.loadOrder(ctx, evt.OrderID)
	if err != nil {
		return err
	}
	if o.PaymentID == "" {
		o.PaymentID = evt.PaymentID
	}
	if o.PaymentID == "" || o.Status != domain.StatusCancelled || o.Refunded {
		return nil
	}
	return s.reverse(ctx, o)
}

// reverse consulta el intent y actúa según su estado: reembolsar lo cobrado o anular lo pendiente.
func (s *OrderService) reverse(ctx context.Context, o *domain.Order) error {
	if o.PaymentID == "" {
		return nil
	}
	log := s.log.With(zap.String("order_id", o.ID.String()), zap.String("payment_id", o.PaymentID))

	intent, err := s.gateway.GetIntent(ctx, o.PaymentID)
	if err != nil {
		if g, ok := domain.AsGatewayError(err); ok && g.Fatal() {
			return events.Fatal(err)
		}
		return events.Retryable(err)
	}

	switch {
	case intent.Status == domain.IntentSucceeded:
		return s.refundCaptured(ctx, o)
	case intent.Status.Cancellable():
		err := s.gateway.CancelIntent(ctx, o.PaymentID)
		if domain.HasCode(err, domain.CodeUnexpectedState) {
			// Se capturó entre la consulta y la anulación.
			return s.refundCaptured(ctx, o)
		}
		if err != nil {
			return events.Retryable(err)
		}
		log.Info("Intent anulado")
		return nil
	case intent.Status == domain.IntentCanceled:
		return nil
	default:
		// processing: el webhook de succeeded llegará y encontrará el pedido cancelado.
		log.Info("Intent en proceso, se delega en el webhook", zap.String("intent_status", string(intent.Status)))
		return nil
	}
}

// refundCaptured devuelve un cobro capturado una sola vez: claim condicional en BD más clave de
// idempotencia en el proveedor.
func (s *OrderService) refundCaptured(ctx context.Context, o *domain.Order) error {
	log := s.log.With(zap.String("order_id", o.ID.String()), zap.String("payment_id", o.PaymentID))

	claimed, err := s.repo.ClaimRefund(ctx, o.ID)
	if err != nil {
		return events.Retryable(err)
	}
	if !claimed {
		log.Info("Reembolso ya reclamado")
		return nil
	}

	if err := s.gateway.Refund(ctx, o.PaymentID, "refund-"+o.ID.String()); err != nil {
		if relErr := s.repo.ReleaseRefundClaim(ctx, o.ID); relErr != nil {
			log.Error("No se pudo liberar el claim de reembolso", zap.Error(relErr))
		}
		if domain.HasCode(err, domain.CodeChargeNotFound) {
			log.Info("Sin cargo que reembolsar")
			return nil
		}
		return events.Retryable(err)
	}

	if _, err := s.repo.TransitionStatus(ctx, o.ID, []domain.Status{domain.StatusCancelled}, domain.StatusRefunded, ""); err != nil {
		return events.Retryable(err)
	}
	log.Info("💸 Pedido reembolsado")
	return nil
}

// SetInvoiceURL guarda la factura generada por Invoice.
func (s *OrderService) SetInvoiceURL(ctx context.Context, evt events.InvoiceGeneratedData) error {
	id, err := parseOrderID(evt.OrderID)
	if err != nil {
		return err
	}
	err = s.repo.SetInvoiceURL(ctx, id, evt.InvoiceURL)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return events.Fatal(err)
	}
	if err != nil {
		return events.Retryable(err)
	}
	s.log.Info("Factura asociada", zap.String("order_id", evt.OrderID), zap.String("url", evt.InvoiceURL))
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/danielmoisemontezima/splits-payment-service/internal/config"
	"github.com/danielmoisemontezima/splits-payment-service/internal/metrics"
	"github.com/danielmoisemontezima/splits-payment-service/internal/model"
	"github.com/danielmoisemontezima/splits-payment-service/internal/ports"
)

// Reconciler applies Splits transaction statuses to local orders. Both the
// checkout response and asynchronous notifications go through ApplyStatus.
type Reconciler struct {
	cfg       config.Config
	orders    ports.IOrderRepository
	verifier  ports.INotificationVerifier
	mailer    ports.Mailer
	publisher ports.EventPublisher
	log       *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewReconciler(cfg config.Config, orders ports.IOrderRepository, verifier ports.INotificationVerifier,
	mailer ports.Mailer, publisher ports.EventPublisher, log *slog.Logger) *Reconciler {
	return &Reconciler{
		cfg:       cfg,
		orders:    orders,
		verifier:  verifier,
		mailer:    mailer,
		publisher: publisher,
		log:       log,
		tracer:    otel.Tracer("splits-reconciler"),
		now:       time.Now,
	}
}

// Outcome describes what ApplyStatus did to an order.
type Outcome struct {
	From    model.OrderStatus
	To      model.OrderStatus
	Applied bool
	Stale   bool
	Emailed bool
}

// HandleNotification authenticates and applies an IPN. It returns an error
// wrapping ports.ErrInvalidFingerprint when the notification is not authentic;
// unknown orders and statuses are not errors.
func (r *Reconciler) HandleNotification(ctx context.Context, n model.Notification) error {
	ctx, span := r.tracer.Start(ctx, "reconciler.HandleNotification")
	defer span.End()

	if err := r.verifier.Verify(n); err != nil {
		metrics.Notifications.WithLabelValues(metrics.StatusUnauthenticated, metrics.OutcomeRejected).Inc()
		r.log.Warn("notification rejected", "transaction_id", n.TransactionID, "err", err)
		return err
	}
	span.SetAttributes(
		attribute.String("splits.transaction_id", n.TransactionID),
		attribute.String("splits.status", n.CurrentStatus),
	)

	log := r.log.With("transaction_id", n.TransactionID, "vendor_status", n.CurrentStatus)

	// The fingerprint covers the id only, so the status string stays untrusted.
	status, statusErr := model.ParseVendorStatus(n.CurrentStatus)
	label := metrics.VendorStatusLabel(string(status), statusErr == nil)

	order, err := r.orders.FindByTransactionID(ctx, n.TransactionID)
	if errors.Is(err, ports.ErrOrderNotFound) || (err == nil && (order == nil || order.ID == "")) {
		metrics.Notifications.WithLabelValues(label, metrics.OutcomeNoOrder).Inc()
		log.Info("no order for notification, ignoring")
		return nil
	}
	if err != nil {
		metrics.Notifications.WithLabelValues(label, metrics.OutcomeError).Inc()
		return fmt.Errorf("lookup order for transaction %s: %w", n.TransactionID, err)
	}
	log = log.With("order_id", order.ID)

	// Asynchronous banking tickets only deliver the document URL here. It is
	// stored before any status side effect runs.
	if n.BoletoURL != "" && order.PaymentMethod == model.BankingTicket {
		if err := r.orders.MergeTransaction(ctx, order.ID, map[string]any{"boleto_url": n.BoletoURL}); err != nil {
			metrics.Notifications.WithLabelValues(label, metrics.OutcomeError).Inc()
			return fmt.Errorf("merge boleto url: %w", err)
		}
		if err := r.orders.SetMeta(ctx, order.ID, model.MetaBoletoURL, n.BoletoURL); err != nil {
			log.Error("failed to store boleto url display field", "err", err)
		}
		log.Info("boleto url stored")
	}

	if statusErr != nil {
		metrics.Notifications.WithLabelValues(label, metrics.OutcomeUnknown).Inc()
		log.Warn("unknown vendor status, order left unchanged")
		return nil
	}

	out, err := r.ApplyStatus(ctx, order, n.TransactionID, status, model.SourceNotification)
	if err != nil {
		metrics.Notifications.WithLabelValues(label, metrics.OutcomeError).Inc()
		return err
	}
	metrics.Notifications.WithLabelValues(label, outcomeLabel(out)).Inc()
	return nil
}

func outcomeLabel(out Outcome) string {
	switch {
	case out.Stale:
		return metrics.OutcomeStale
	case out.Applied:
		return metrics.OutcomeApplied
	}
	return metrics.OutcomeNoop
}

// ApplyStatus moves order according to the vendor status. order.Status is
// updated in place when the transition is applied.
func (r *Reconciler) ApplyStatus(ctx context.Context, order *model.Order, transactionID string, status model.VendorStatus, source string) (Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "reconciler.ApplyStatus")
	defer span.End()

	out := Outcome{From: order.Status, To: order.Status}
	log := r.log.With("order_id", order.ID, "transaction_id", transactionID, "vendor_status", string(status), "source", source)
	log.Info("payment status for order is now " + string(status))

	tr, ok := model.TransitionFor(status)
	if !ok {
		log.Warn("vendor status has no transition")
		return out, nil
	}

	link := r.cfg.Splits.TransactionURL(transactionID)
	out.Stale = r.cfg.Reconciler.MonotonicGuard && tr.Target.Rank() < order.Status.Rank()
	skip := tr.SkipWhenPaid && order.Status.Paid()

	switch {
	case out.Stale:
		log.Warn("stale status ignored", "current", string(order.Status), "target", string(tr.Target))
	case skip && tr.PaymentComplete:
		log.Debug("order already paid")
	case skip:
		log.Debug("order already paid, transition skipped")
	case tr.PaymentComplete:
		if err := r.orders.CompletePayment(ctx, order.ID, tr.Note); err != nil {
			return out, err
		}
		if order.CanCompletePayment() {
			out.To = model.StatusProcessing
			out.Applied = true
		}
	default:
		note := tr.Note
		if tr.LinkInNote {
			note = fmt.Sprintf(tr.Note, link)
		}
		if err := r.orders.UpdateStatus(ctx, order.ID, tr.Target, note); err != nil {
			return out, err
		}
		out.To = tr.Target
		out.Applied = true
	}

	// The stored record follows every status that was not rejected as stale
	// or skipped in favour of an already paid order.
	if out.Applied || (skip && tr.PaymentComplete) {
		if err := r.orders.MergeTransaction(ctx, order.ID, map[string]any{"status": string(status)}); err != nil {
			return out, fmt.Errorf("record vendor status: %w", err)
		}
	}
	order.Status = out.To

	// Side effects run after every store write and each gets its own deadline,
	// so a slow broker or mail server cannot fail the notification.
	// Sent for every accepted notification; duplicates mail again.
	if tr.Email != nil && !out.Stale {
		out.Emailed = r.notifyAdmin(ctx, log, order, tr.Email, link)
	}

	if out.To != out.From {
		r.publish(ctx, log, model.StatusChangedEvent{
			EventID:       uuid.NewString(),
			OrderID:       order.ID,
			TransactionID: transactionID,
			VendorStatus:  status,
			From:          out.From,
			To:            out.To,
			Source:        source,
			OccurredAt:    r.now().UTC(),
		})
	}

	span.SetAttributes(
		attribute.String("order.from", string(out.From)),
		attribute.String("order.to", string(out.To)),
		attribute.Bool("reconciler.stale", out.Stale),
	)
	return out, nil
}

func (r *Reconciler) notifyAdmin(ctx context.Context, log *slog.Logger, order *model.Order, email *model.AdminEmail, link string) bool {
	to := r.cfg.Store.AdminEmail
	if to == "" {
		log.Warn("store.admin_email not configured, skipping admin email")
		return false
	}
	ctx, cancel := boundedContext(ctx, r.cfg.SMTP.Timeout)
	defer cancel()
	err := r.mailer.Send(ctx, to,
		fmt.Sprintf(email.Subject, order.ID),
		email.Title,
		fmt.Sprintf(email.Message, order.ID, link),
	)
	if err != nil {
		log.Error("failed to send admin email", "err", err)
		return false
	}
	return true
}

func (r *Reconciler) publish(ctx context.Context, log *slog.Logger, ev model.StatusChangedEvent) {
	ctx, cancel := boundedContext(ctx, r.cfg.Kafka.WriteTimeout)
	defer cancel()
	if err := r.publisher.PublishStatusChanged(ctx, ev); err != nil {
		log.Error("failed to publish status event", "err", err)
	}
}

// boundedContext leaves ctx untouched when no timeout is configured.
func boundedContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Package autosend delivers prescriptions by SMS when they are created with
// deliverBySms set. It consumes the prescription event stream.
package autosend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/apperr"
	"github.com/medicare-plus/frontdesk/internal/delivery/sms"
	"github.com/medicare-plus/frontdesk/internal/domain/prescription"
	"github.com/medicare-plus/frontdesk/internal/infrastructure/redpanda"
	"github.com/medicare-plus/frontdesk/internal/observability/metrics"
	"github.com/medicare-plus/frontdesk/pkg/idempotency"
)

// HandlerName identifies this consumer in the inbox
const HandlerName = "sms-autosend"

// Task outcomes reported to metrics
const (
	OutcomeSent      = "sent"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeRetry     = "retry"
)

// Sender delivers a stored prescription
type Sender interface {
	Send(ctx context.Context, prescriptionID string) (*sms.Receipt, error)
}

// Inbox runs fn at most once per key
type Inbox interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// Handler turns PrescriptionCreated events into SMS deliveries
type Handler struct {
	sender  Sender
	inbox   Inbox
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHandler creates a handler. m may be nil.
func NewHandler(sender Sender, inbox Inbox, m *metrics.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sender: sender, inbox: inbox, metrics: m, logger: logger}
}

// Handle processes one event. A nil return commits the message; errors that
// are not terminal are retried by the consumer.
func (h *Handler) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	var event prescription.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return apperr.Validation("undecodable event at offset %d: %v", msg.Offset, err)
	}
	if event.EventType != prescription.EventPrescriptionCreated {
		return nil
	}

	var data prescription.PrescriptionCreatedData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return apperr.Validation("undecodable %s data for %s: %v", event.EventType, event.AggregateID, err)
	}
	if !data.DeliverBySms {
		h.metrics.DeliveryTask(OutcomeSkipped)
		return nil
	}

	// one message per prescription, whatever the event id
	key := idempotency.Key(HandlerName, data.PrescriptionID)
	res, err := h.inbox.Process(ctx, key, HandlerName, event.EventData, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		receipt, err := h.sender.Send(ctx, data.PrescriptionID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(receipt)
	})

	switch {
	case err == nil && !res.IsNew && !res.WasRecovered:
		h.metrics.DeliveryTask(OutcomeDuplicate)
		h.logger.Debug("prescription already delivered", zap.String("prescription_id", data.PrescriptionID))
		return nil
	case err == nil:
		h.metrics.DeliveryTask(OutcomeSent)
		h.logger.Info("prescription delivered by sms",
			zap.String("prescription_id", data.PrescriptionID),
			zap.String("correlation_id", event.CorrelationID))
		return nil
	case errors.Is(err, idempotency.ErrDuplicateMessage):
		h.metrics.DeliveryTask(OutcomeDuplicate)
		return nil
	case errors.Is(err, idempotency.ErrPreviouslyFailed):
		h.metrics.DeliveryTask(OutcomeFailed)
		return nil
	case apperr.Terminal(err):
		h.metrics.DeliveryTask(OutcomeFailed)
		return fmt.Errorf("deliver %s: %w", data.PrescriptionID, err)
	default:
		h.metrics.DeliveryTask(OutcomeRetry)
		return fmt.Errorf("deliver %s: %w", data.PrescriptionID, err)
	}
}

// Retryable reports whether the consumer should try a failed message again
func Retryable(err error) bool {
	return !apperr.Terminal(err)
}

// OnFailure records a message that will not be retried
func (h *Handler) OnFailure(ctx context.Context, msg *redpanda.ConsumedMessage, err error) {
	h.logger.Error("sms delivery abandoned",
		zap.String("key", string(msg.Key)),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(err))
	if !apperr.Terminal(err) {
		sentry.CaptureException(err)
	}
}

// Package sms delivers rendered prescriptions to patients as MMS.
package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medicare-plus/frontdesk/internal/apperr"
	"github.com/medicare-plus/frontdesk/internal/artifact"
	"github.com/medicare-plus/frontdesk/internal/domain/patient"
	"github.com/medicare-plus/frontdesk/internal/domain/prescription"
	"github.com/medicare-plus/frontdesk/internal/observability/metrics"
	"github.com/medicare-plus/frontdesk/internal/render/prescriptionpdf"
	"github.com/medicare-plus/frontdesk/pkg/circuitbreaker"
)

// DefaultTimeout bounds one gateway call
const DefaultTimeout = 10 * time.Second

// deletes must outlive a cancelled request
const cleanupTimeout = 5 * time.Second

// Records is the slice of the store the dispatcher reads and appends to
type Records interface {
	GetPrescription(ctx context.Context, id string) (*prescription.Prescription, error)
	GetPatient(ctx context.Context, id string) (*patient.Patient, error)
	AppendEvents(ctx context.Context, events ...*prescription.Event) error
}

// Config holds dispatcher settings
type Config struct {
	// From is the gateway origin number
	From string
	// DefaultCountryCode is prepended to patient numbers without one
	DefaultCountryCode string
	// Timeout bounds each gateway call
	Timeout time.Duration
}

// Validate fails when the origin number is missing
func (c Config) Validate() error {
	if strings.TrimSpace(c.From) == "" {
		return apperr.Configuration("sms: origin number is required")
	}
	return nil
}

// Deps are the collaborators of a Dispatcher. Breaker and Metrics may be nil.
type Deps struct {
	Records  Records
	Renderer *prescriptionpdf.Renderer
	Host     artifact.Host
	Gateway  Gateway
	Breaker  *circuitbreaker.CircuitBreaker
	Metrics  *metrics.Metrics
}

// Receipt identifies a submitted message
type Receipt struct {
	DeliveryID string `json:"deliveryId"`
	Phone      string `json:"phone"`
}

// Dispatcher renders a prescription, hosts it briefly and sends it by MMS
type Dispatcher struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewDispatcher validates cfg so a misconfigured service fails at startup
func NewDispatcher(deps Deps, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Records == nil || deps.Renderer == nil || deps.Host == nil || deps.Gateway == nil {
		return nil, apperr.Configuration("sms: records, renderer, host and gateway are required")
	}
	if cfg.DefaultCountryCode == "" {
		cfg.DefaultCountryCode = DefaultCountryCode
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("sms-dispatcher"),
	}, nil
}

// Send delivers one prescription to its patient's phone. The hosted PDF is
// removed afterwards whether or not the gateway accepted the message.
func (d *Dispatcher) Send(ctx context.Context, prescriptionID string) (*Receipt, error) {
	ctx, span := d.tracer.Start(ctx, "send_prescription_sms",
		trace.WithAttributes(attribute.String("prescription_id", prescriptionID)))
	defer span.End()

	p, err := d.deps.Records.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	pt, err := d.deps.Records.GetPatient(ctx, p.PatientID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(pt.Phone) == "" {
		return nil, apperr.Validation("patient %s has no phone number", pt.ID)
	}
	phone := NormalizePhone(pt.Phone, d.cfg.DefaultCountryCode)

	data, err := d.deps.Renderer.Render(prescriptionpdf.Document{Prescription: p, Patient: pt})
	if err != nil {
		return nil, fmt.Errorf("render prescription: %w", err)
	}

	name := artifact.NewName(p.ID, ".pdf")
	mediaURL, err := d.deps.Host.Put(ctx, name, data, prescriptionpdf.ContentType)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("host prescription: %w", err)
	}
	defer d.cleanup(name)

	sid, err := d.submit(ctx, Message{
		To:       phone,
		From:     d.cfg.From,
		Body:     fmt.Sprintf("Hello %s, your prescription from Dr. %s is attached.", pt.Name, p.DoctorName),
		MediaURL: mediaURL,
	})
	if err != nil {
		span.RecordError(err)
		d.deps.Metrics.SmsDispatch("failed")
		d.record(ctx, p, prescription.EventSmsDispatchFailed, &prescription.SmsDispatchFailedData{
			PrescriptionID: p.ID,
			Reason:         "gateway error",
			FailedAt:       time.Now().UTC(),
		})
		d.logger.Error("sms dispatch failed",
			zap.String("prescription_id", p.ID),
			zap.String("phone", phone),
			zap.Error(err),
		)
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("component", "sms-dispatcher")
			scope.SetExtra("prescription_id", p.ID)
			sentry.CaptureException(err)
		})
		return nil, apperr.Upstream("prescription delivery failed", err)
	}

	d.deps.Metrics.SmsDispatch("sent")
	d.record(ctx, p, prescription.EventSmsDispatched, &prescription.SmsDispatchedData{
		PrescriptionID: p.ID,
		DeliveryID:     sid,
		Phone:          phone,
		DispatchedAt:   time.Now().UTC(),
	})
	d.logger.Info("prescription sent by sms",
		zap.String("prescription_id", p.ID),
		zap.String("delivery_id", sid),
	)
	return &Receipt{DeliveryID: sid, Phone: phone}, nil
}

func (d *Dispatcher) submit(ctx context.Context, msg Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	if d.deps.Breaker == nil {
		return d.deps.Gateway.Send(ctx, msg)
	}
	return circuitbreaker.Call(ctx, d.deps.Breaker, func(ctx context.Context) (string, error) {
		return d.deps.Gateway.Send(ctx, msg)
	})
}

func (d *Dispatcher) cleanup(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := d.deps.Host.Delete(ctx, name); err != nil {
		d.deps.Metrics.CleanupFailed()
		d.logger.Warn("failed to delete hosted prescription",
			zap.String("artifact", name),
			zap.Error(err),
		)
	}
}

// the message is already out, so audit failures are only logged
func (d *Dispatcher) record(ctx context.Context, p *prescription.Prescription, t prescription.EventType, data interface{}) {
	ev, err := prescription.NewEvent(p.ID, t, data)
	if err == nil {
		ev.WithParties(p.DoctorID, p.PatientID)
		err = d.deps.Records.AppendEvents(ctx, ev)
	}
	if err != nil {
		d.logger.Warn("failed to record delivery event",
			zap.String("prescription_id", p.ID),
			zap.String("event_type", string(t)),
			zap.Error(err),
		)
	}
}

// GatewayBreakerConfig is the breaker setup for a messaging gateway. Rejected
// messages do not count against the provider.
func GatewayBreakerConfig(name string, onChange func(string, circuitbreaker.State)) circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig(name)
	cfg.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, ErrRejected) }
	cfg.OnStateChange = onChange
	return cfg
}

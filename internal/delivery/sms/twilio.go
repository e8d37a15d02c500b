package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/medicare-plus/frontdesk/internal/apperr"
)

// Message is one outbound MMS
type Message struct {
	To       string
	From     string
	Body     string
	MediaURL string
}

// Gateway submits messages to an SMS/MMS provider and returns its message id
type Gateway interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// ErrRejected marks a request the provider refused (invalid number, bad
// parameters), as opposed to the provider being unavailable.
var ErrRejected = errors.New("message rejected by gateway")

// TwilioConfig holds the gateway credentials
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	Timeout    time.Duration
}

// Validate reports every missing credential at once
func (c TwilioConfig) Validate() error {
	var missing []string
	if c.AccountSID == "" {
		missing = append(missing, "account SID")
	}
	if c.AuthToken == "" {
		missing = append(missing, "auth token")
	}
	if len(missing) > 0 {
		return apperr.Configuration("twilio: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// TwilioGateway sends MMS through the Twilio Messages API
type TwilioGateway struct {
	client  *twilio.RestClient
	timeout time.Duration
}

// NewTwilioGateway builds a client from validated credentials
func NewTwilioGateway(cfg TwilioConfig) (*TwilioGateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	client.SetTimeout(cfg.Timeout)
	return &TwilioGateway{client: client, timeout: cfg.Timeout}, nil
}

// Send creates the message. The SDK call has no context, so it runs in a
// goroutine and the caller stops waiting once ctx is done.
func (g *TwilioGateway) Send(ctx context.Context, msg Message) (string, error) {
	params := &api.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(msg.From)
	params.SetBody(msg.Body)
	if msg.MediaURL != "" {
		params.SetMediaUrl([]string{msg.MediaURL})
	}

	type result struct {
		sid string
		err error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := g.client.Api.CreateMessage(params)
		if err != nil {
			done <- result{err: classify(err)}
			return
		}
		if resp.Sid == nil {
			done <- result{err: errors.New("twilio: response without message sid")}
			return
		}
		done <- result{sid: *resp.Sid}
	}()

	select {
	case r := <-done:
		return r.sid, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("twilio: %w", ctx.Err())
	}
}

func classify(err error) error {
	var restErr *twclient.TwilioRestError
	if errors.As(err, &restErr) && restErr.Status >= 400 && restErr.Status < 500 &&
		restErr.Status != 401 && restErr.Status != 429 {
		return fmt.Errorf("twilio %d (code %d): %s: %w", restErr.Status, restErr.Code, restErr.Message, ErrRejected)
	}
	return fmt.Errorf("twilio: %w", err)
}

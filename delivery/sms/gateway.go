// Package sms delivers one-time codes through an HTTP SMS gateway.
//
// The gateway contract is a JSON POST of {"to", "message", "sender"} to
// Config.Endpoint authenticated with a bearer token. Any 2xx response is
// treated as accepted.
package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authflow/logging"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Config describes the gateway.
type Config struct {
	Endpoint   string
	APIKey     string
	SenderID   string
	Template   string
	Timeout    time.Duration
	RetryCount int
}

type request struct {
	To      string `json:"to"`
	Message string `json:"message"`
	Sender  string `json:"sender,omitempty"`
}

type response struct {
	ID string `json:"id"`
}

// Sender implements otp.Sender against the gateway.
type Sender struct {
	cfg    Config
	client *resty.Client
	logger *zap.Logger
}

// New validates cfg and returns a Sender.
func New(cfg Config, logger *zap.Logger) (*Sender, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, errors.New("sms gateway endpoint required")
	}
	if cfg.Template == "" {
		cfg.Template = "Your verification code is %s"
	}
	if !strings.Contains(cfg.Template, "%s") {
		return nil, errors.New("sms template must contain %s")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "authflow-sms/1.0")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Sender{
		cfg:    cfg,
		client: client,
		logger: logging.OrNop(logger).With(logging.Component("sms_sender")),
	}, nil
}

// Deliver posts code to the phone number in destination.
func (s *Sender) Deliver(ctx context.Context, destination, code string) error {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return errors.New("sms recipient required")
	}

	var result response
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(request{
			To:      destination,
			Message: fmt.Sprintf(s.cfg.Template, code),
			Sender:  s.cfg.SenderID,
		}).
		SetResult(&result).
		Post(s.cfg.Endpoint)
	if err != nil {
		s.logger.Error("sms gateway request failed", logging.Err(err))
		return fmt.Errorf("sms gateway request: %w", err)
	}
	if resp.IsError() {
		s.logger.Error("sms gateway rejected message", zap.Int("status", resp.StatusCode()))
		return fmt.Errorf("sms gateway error (status %d): %s", resp.StatusCode(), resp.String())
	}

	s.logger.Debug("verification code texted", zap.String("message_id", result.ID))
	return nil
}

// Package email delivers one-time codes over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/MrEthical07/authflow/logging"
	mail "github.com/go-mail/mail"
	"go.uber.org/zap"
)

// TLS modes accepted by Config.TLSMode.
const (
	TLSAuto     = "auto"
	TLSStartTLS = "starttls"
	TLSSSL      = "ssl"
	TLSNone     = "none"
)

// Config describes the SMTP relay and message template.
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	Subject            string
	TLSMode            string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// dialer is satisfied by *mail.Dialer.
type dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// Sender implements otp.Sender over SMTP.
type Sender struct {
	cfg    Config
	dialer dialer
	logger *zap.Logger
}

var bodyTemplate = template.Must(template.New("code").Parse(
	`<p>Your verification code is <strong>{{.}}</strong>.</p><p>If you did not request it, ignore this message.</p>`))

// New validates cfg and returns a Sender.
func New(cfg Config, logger *zap.Logger) (*Sender, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, errors.New("smtp host required")
	}
	if cfg.Port <= 0 {
		return nil, errors.New("smtp port must be > 0")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp from address required")
	}
	if cfg.Subject == "" {
		cfg.Subject = "Your verification code"
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSAuto
	}
	switch cfg.TLSMode {
	case TLSAuto, TLSStartTLS, TLSSSL, TLSNone:
	default:
		return nil, fmt.Errorf("unknown smtp tls mode %q", cfg.TLSMode)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.Timeout = cfg.Timeout
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	switch cfg.TLSMode {
	case TLSSSL:
		d.SSL = true
	case TLSStartTLS:
		d.StartTLSPolicy = mail.MandatoryStartTLS
	case TLSNone:
		d.StartTLSPolicy = mail.NoStartTLS
	}

	return &Sender{
		cfg:    cfg,
		dialer: d,
		logger: logging.OrNop(logger).With(logging.Component("smtp_sender")),
	}, nil
}

// Deliver sends code to the address in destination.
func (s *Sender) Deliver(ctx context.Context, destination, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := s.message(destination, code)
	if err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(m); err != nil {
		s.logger.Error("smtp send failed", logging.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}

	s.logger.Debug("verification code mailed")
	return nil
}

func (s *Sender) message(to, code string) (*mail.Message, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, errors.New("smtp recipient required")
	}

	var html bytes.Buffer
	if err := bodyTemplate.Execute(&html, code); err != nil {
		return nil, err
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", s.cfg.Subject)
	m.SetBody("text/plain", "Your verification code is "+code+".")
	m.AddAlternative("text/html", html.String())
	return m, nil
}

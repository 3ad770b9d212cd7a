// Package mail delivers transactional email: rendering, SMTP transport and a
// bounded asynchronous outbox.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	gomail "gopkg.in/mail.v2"
)

const defaultSMTPPort = 465

var errMissingRecipient = errors.New("mail: recipient required")

// Message is one rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errMissingRecipient
	}
	return nil
}

// Sender delivers a message synchronously.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig describes the outgoing mail server.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	Timeout     time.Duration
}

// SMTPSender sends through an SMTP relay. Port 465 uses implicit TLS.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPSender validates cfg and prepares the dialer.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, fmt.Errorf("mail: smtp host required")
	}
	port := cfg.Port
	if port == 0 {
		port = defaultSMTPPort
	}
	fromAddress := strings.TrimSpace(cfg.FromAddress)
	if fromAddress == "" {
		fromAddress = strings.TrimSpace(cfg.Username)
	}
	if fromAddress == "" {
		return nil, fmt.Errorf("mail: from address required")
	}

	dialer := gomail.NewDialer(host, port, cfg.Username, cfg.Password)
	if cfg.Timeout > 0 {
		dialer.Timeout = cfg.Timeout
	}

	return &SMTPSender{
		dialer: dialer,
		from:   formatFrom(cfg.FromName, fromAddress),
	}, nil
}

// Send dials the relay and delivers msg.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	message := gomail.NewMessage()
	message.SetHeader("From", s.from)
	message.SetHeader("To", msg.To)
	message.SetHeader("Subject", msg.Subject)
	message.SetBody("text/html", msg.HTML)

	return s.dialer.DialAndSend(message)
}

// formatFrom quotes or encodes the display name as RFC 5322 requires.
func formatFrom(name, address string) string {
	return gomail.NewMessage().FormatAddress(address, strings.TrimSpace(name))
}

// LogSender records messages in the log instead of sending them. Used when no
// SMTP host is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender returns a sender that only logs.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the envelope. Bodies carry secrets and are not logged.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	s.logger.Info("email delivery skipped",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject))
	return nil
}

package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
)

// EmailSender delivers one email. Implementations can be swapped without
// touching the dispatcher.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string // plain text
	HTML    string // optional
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	Host      string // API host override, empty means api.sendgrid.com
}

// SendGridSender sends emails through the SendGrid v3 API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	log       logrus.FieldLogger
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, log logrus.FieldLogger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.FromName == "" {
		cfg.FromName = "Clinic Appointments"
	}
	client := sendgrid.NewSendClient(cfg.APIKey)
	if cfg.Host != "" {
		req := sendgrid.GetRequest(cfg.APIKey, "/v3/mail/send", cfg.Host)
		req.Method = "POST"
		client = &sendgrid.Client{Request: req}
	}
	return &SendGridSender{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		log:       log,
	}
}

func (s *SendGridSender) SendEmail(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return errors.New("notify: sendgrid client not configured")
	}
	if msg.To == "" {
		return errors.New("notify: email recipient required")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)

	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, html)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if response.StatusCode >= 400 {
		s.log.WithFields(logrus.Fields{
			"status": response.StatusCode,
			"body":   response.Body,
		}).Error("sendgrid returned error status")
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.log.WithFields(logrus.Fields{
		"subject": msg.Subject,
		"status":  response.StatusCode,
	}).Info("email sent via sendgrid")
	return nil
}

// LogEmailSender logs instead of sending. Used when SendGrid is not configured.
type LogEmailSender struct {
	log logrus.FieldLogger
}

func NewLogEmailSender(log logrus.FieldLogger) *LogEmailSender {
	return &LogEmailSender{log: log}
}

func (s *LogEmailSender) SendEmail(ctx context.Context, msg EmailMessage) error {
	if msg.To == "" {
		return errors.New("notify: email recipient required")
	}
	s.log.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("email delivery disabled, logging message")
	return nil
}

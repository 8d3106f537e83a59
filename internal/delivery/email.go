package delivery

import (
	"context"
	"fmt"
	"net"
	"time"

	"funnel_backend/internal/funnel/ports"
	"funnel_backend/platform/config"
	"funnel_backend/platform/logger"

	gomail "github.com/wneessen/go-mail"
)

// EmailSender delivers email sequence steps over SMTP via go-mail.
type EmailSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
	log       *logger.Logger
}

// NewEmailSender returns nil when email delivery is disabled.
func NewEmailSender(cfg config.SMTPConfig, log *logger.Logger) *EmailSender {
	if !cfg.GetEmailEnabled() {
		return nil
	}
	return &EmailSender{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromName:  cfg.GetEmailFromName(),
		fromEmail: cfg.GetEmailFromAddress(),
		log:       log,
	}
}

func (s *EmailSender) Send(ctx context.Context, msg ports.Message) error {
	if msg.Recipient.Email == nil || *msg.Recipient.Email == "" {
		return fmt.Errorf("%w: lead has no email address", ports.ErrPermanentDelivery)
	}

	subject, body, err := renderEmail(msg.TemplateRef, msg.Variables)
	if err != nil {
		return err
	}

	m, err := s.buildMessage(*msg.Recipient.Email, subject, body)
	if err != nil {
		return err
	}

	opts := []gomail.Option{
		gomail.WithPort(s.port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	}
	if s.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.username),
			gomail.WithPassword(s.password),
		)
	}

	client, err := gomail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	s.log.WithContext(ctx).Info("sequence email sent", "leadId", msg.LeadID, "template", msg.TemplateRef)
	return nil
}

func (s *EmailSender) buildMessage(to, subject, body string) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.FromFormat(s.fromName, s.fromEmail); err != nil {
		return nil, fmt.Errorf("smtp from: %w", err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("%w: invalid recipient %q: %v", ports.ErrPermanentDelivery, to, err)
	}
	m.Subject(subject)
	m.SetBodyString(gomail.TypeTextHTML, body)
	return m, nil
}

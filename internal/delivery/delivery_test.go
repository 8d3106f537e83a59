package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/ports"
	"funnel_backend/platform/logger"

	"github.com/google/uuid"
)

type whatsAppConfig struct {
	url string
}

func (c whatsAppConfig) GetWhatsAppURL() string        { return c.url }
func (c whatsAppConfig) GetWhatsAppKey() string        { return "gateway-key" }
func (c whatsAppConfig) GetWhatsAppDeviceID() string   { return "device-1" }
func (c whatsAppConfig) GetPhoneDefaultRegion() string { return "CO" }

type smtpConfig struct {
	enabled bool
}

func (c smtpConfig) GetEmailEnabled() bool       { return c.enabled }
func (c smtpConfig) GetSMTPHost() string         { return "127.0.0.1" }
func (c smtpConfig) GetSMTPPort() int            { return 2525 }
func (c smtpConfig) GetSMTPUsername() string     { return "" }
func (c smtpConfig) GetSMTPPassword() string     { return "" }
func (c smtpConfig) GetEmailFromName() string    { return "Academia" }
func (c smtpConfig) GetEmailFromAddress() string { return "academia@example.com" }

func strPtr(s string) *string { return &s }

func message(channel domain.Channel, ref string) ports.Message {
	return ports.Message{
		TenantID:    uuid.New(),
		LeadID:      uuid.New(),
		StepID:      uuid.New(),
		Channel:     channel,
		TemplateRef: ref,
		Recipient: ports.Recipient{
			FirstName: "Lucía",
			Email:     strPtr("lucia@example.com"),
			Phone:     strPtr("+573001234567"),
		},
		Variables: map[string]string{"firstName": "Lucía", "stage": "NUEVO"},
	}
}

func TestRenderEmailUsesVariables(t *testing.T) {
	subject, body, err := renderEmail("welcome", map[string]string{"firstName": "Lucía"})
	if err != nil {
		t.Fatalf("renderEmail returned error: %v", err)
	}
	if subject != "Bienvenido, Lucía" {
		t.Fatalf("unexpected subject %q", subject)
	}
	if !strings.Contains(body, "Hola Lucía") || !strings.Contains(body, "<html") {
		t.Fatalf("expected rendered layout with the first name, got %q", body)
	}
}

func TestRenderEscapesHTMLInEmail(t *testing.T) {
	_, body, err := renderEmail("welcome", map[string]string{"firstName": "<b>x</b>"})
	if err != nil {
		t.Fatalf("renderEmail returned error: %v", err)
	}
	if strings.Contains(body, "<b>x</b>") {
		t.Fatalf("expected first name to be escaped, got %q", body)
	}
}

func TestUnknownTemplatesArePermanent(t *testing.T) {
	tests := []struct {
		name   string
		render func() error
	}{
		{name: "missing email", render: func() error { _, _, err := renderEmail("does-not-exist", nil); return err }},
		{name: "missing whatsapp", render: func() error { _, err := renderWhatsApp("welcome", nil); return err }},
		{name: "path traversal", render: func() error { _, err := renderWhatsApp("../email/base", nil); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.render(); !errors.Is(err, ports.ErrPermanentDelivery) {
				t.Fatalf("expected permanent delivery error, got %v", err)
			}
		})
	}
}

func TestWhatsAppSenderPostsToGateway(t *testing.T) {
	var got gowaRequest
	var auth, device string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send/message" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		device = r.Header.Get("X-Device-Id")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewWhatsAppSender(whatsAppConfig{url: server.URL + "/"}, logger.New("test"))
	if err := sender.Send(context.Background(), message(domain.ChannelWhatsApp, "masterclass-invite")); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if got.Phone != "573001234567" {
		t.Fatalf("expected phone without plus, got %q", got.Phone)
	}
	if !strings.HasPrefix(got.Message, "Hola Lucía") {
		t.Fatalf("unexpected message %q", got.Message)
	}
	if !strings.HasPrefix(auth, "Basic ") || device != "device-1" {
		t.Fatalf("unexpected headers auth=%q device=%q", auth, device)
	}
}

func TestWhatsAppSenderClassifiesGatewayErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		permanent bool
	}{
		{name: "bad request", status: http.StatusBadRequest, permanent: true},
		{name: "throttled", status: http.StatusTooManyRequests, permanent: false},
		{name: "unavailable", status: http.StatusServiceUnavailable, permanent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			sender := NewWhatsAppSender(whatsAppConfig{url: server.URL}, logger.New("test"))
			err := sender.Send(context.Background(), message(domain.ChannelWhatsApp, "advisor-call"))
			if err == nil {
				t.Fatal("expected error from gateway")
			}
			if errors.Is(err, ports.ErrPermanentDelivery) != tt.permanent {
				t.Fatalf("expected permanent=%v, got %v", tt.permanent, err)
			}
		})
	}
}

func TestWhatsAppSenderWithoutPhoneIsPermanent(t *testing.T) {
	sender := NewWhatsAppSender(whatsAppConfig{url: "http://127.0.0.1:1"}, logger.New("test"))
	msg := message(domain.ChannelWhatsApp, "advisor-call")
	msg.Recipient.Phone = nil

	if err := sender.Send(context.Background(), msg); !errors.Is(err, ports.ErrPermanentDelivery) {
		t.Fatalf("expected permanent delivery error, got %v", err)
	}
}

func TestSendersDisabledWithoutConfig(t *testing.T) {
	if NewWhatsAppSender(whatsAppConfig{}, logger.New("test")) != nil {
		t.Fatal("expected nil whatsapp sender without URL")
	}
	if NewEmailSender(smtpConfig{}, logger.New("test")) != nil {
		t.Fatal("expected nil email sender when disabled")
	}
}

func TestEmailSenderRejectsMissingOrInvalidAddress(t *testing.T) {
	sender := NewEmailSender(smtpConfig{enabled: true}, logger.New("test"))

	noEmail := message(domain.ChannelEmail, "welcome")
	noEmail.Recipient.Email = nil
	if err := sender.Send(context.Background(), noEmail); !errors.Is(err, ports.ErrPermanentDelivery) {
		t.Fatalf("expected permanent error without email, got %v", err)
	}

	invalid := message(domain.ChannelEmail, "welcome")
	invalid.Recipient.Email = strPtr("not an address")
	if err := sender.Send(context.Background(), invalid); !errors.Is(err, ports.ErrPermanentDelivery) {
		t.Fatalf("expected permanent error for invalid address, got %v", err)
	}
}

func TestRouterDispatchesByChannel(t *testing.T) {
	var sent []domain.Channel
	record := ports.SenderFunc(func(_ context.Context, msg ports.Message) error {
		sent = append(sent, msg.Channel)
		return nil
	})
	router := NewRouter(logger.New("test")).Register(domain.ChannelEmail, record)

	if err := router.Send(context.Background(), message(domain.ChannelEmail, "welcome")); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if len(sent) != 1 || sent[0] != domain.ChannelEmail {
		t.Fatalf("expected one email send, got %v", sent)
	}

	err := router.Send(context.Background(), message(domain.ChannelWhatsApp, "advisor-call"))
	if !errors.Is(err, ports.ErrPermanentDelivery) {
		t.Fatalf("expected permanent error for disabled channel, got %v", err)
	}
	if router.Enabled(domain.ChannelWhatsApp) {
		t.Fatal("whatsapp should not be enabled")
	}
}

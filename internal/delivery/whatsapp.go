package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"funnel_backend/internal/funnel/ports"
	"funnel_backend/platform/config"
	"funnel_backend/platform/logger"
	"funnel_backend/platform/phone"
)

// WhatsAppSender posts sequence steps to a GOWA-compatible WhatsApp gateway.
type WhatsAppSender struct {
	baseURL  string
	apiKey   string
	deviceID string
	region   string
	http     *http.Client
	log      *logger.Logger
}

type gowaRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// NewWhatsAppSender returns nil when no gateway URL is configured.
func NewWhatsAppSender(cfg config.WhatsAppConfig, log *logger.Logger) *WhatsAppSender {
	if cfg.GetWhatsAppURL() == "" {
		return nil
	}

	return &WhatsAppSender{
		baseURL:  strings.TrimRight(cfg.GetWhatsAppURL(), "/"),
		apiKey:   cfg.GetWhatsAppKey(),
		deviceID: cfg.GetWhatsAppDeviceID(),
		region:   cfg.GetPhoneDefaultRegion(),
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

func (s *WhatsAppSender) Send(ctx context.Context, msg ports.Message) error {
	if msg.Recipient.Phone == nil || *msg.Recipient.Phone == "" {
		return fmt.Errorf("%w: lead has no phone number", ports.ErrPermanentDelivery)
	}

	text, err := renderWhatsApp(msg.TemplateRef, msg.Variables)
	if err != nil {
		return err
	}

	recipient := phone.WhatsAppID(*msg.Recipient.Phone, s.region)
	body, err := json.Marshal(gowaRequest{Phone: recipient, Message: text})
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/send/message", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", formatAuthHeader(s.apiKey))
	}
	if s.deviceID != "" {
		req.Header.Set("X-Device-Id", s.deviceID)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := strings.TrimSpace(string(data))
		if isPermanentStatus(resp.StatusCode) {
			return fmt.Errorf("%w: whatsapp gateway returned %d: %s", ports.ErrPermanentDelivery, resp.StatusCode, detail)
		}
		return fmt.Errorf("whatsapp gateway returned %d: %s", resp.StatusCode, detail)
	}

	s.log.WithContext(ctx).Info("sequence whatsapp sent", "leadId", msg.LeadID, "template", msg.TemplateRef)
	return nil
}

// 4xx responses other than timeouts and throttling will not succeed on retry.
func isPermanentStatus(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= http.StatusBadRequest && status < http.StatusInternalServerError
}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(apiKey))
}

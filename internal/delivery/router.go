// Package delivery implements the channels that carry sequence steps to leads:
// SMTP email and a WhatsApp HTTP gateway, behind a router keyed by channel.
package delivery

import (
	"context"
	"fmt"

	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/ports"
	"funnel_backend/platform/config"
	"funnel_backend/platform/logger"
)

// Router picks the sender for a message's channel.
type Router struct {
	senders map[domain.Channel]ports.Sender
	log     *logger.Logger
}

func NewRouter(log *logger.Logger) *Router {
	return &Router{senders: make(map[domain.Channel]ports.Sender), log: log}
}

// Register enables a channel. Registering a channel twice replaces its sender.
func (r *Router) Register(channel domain.Channel, sender ports.Sender) *Router {
	r.senders[channel] = sender
	r.log.Info("delivery channel enabled", "channel", channel)
	return r
}

// Enabled reports whether a sender is registered for the channel.
func (r *Router) Enabled(channel domain.Channel) bool {
	_, ok := r.senders[channel]
	return ok
}

// Send delivers msg through its channel. A channel without a sender fails
// permanently.
func (r *Router) Send(ctx context.Context, msg ports.Message) error {
	sender, ok := r.senders[msg.Channel]
	if !ok {
		return fmt.Errorf("%w: channel %s is not enabled", ports.ErrPermanentDelivery, msg.Channel)
	}
	return sender.Send(ctx, msg)
}

var _ ports.Sender = (*Router)(nil)

// Config combines the channel settings.
type Config interface {
	config.SMTPConfig
	config.WhatsAppConfig
}

// FromConfig returns a router with every configured channel enabled.
func FromConfig(cfg Config, log *logger.Logger) *Router {
	r := NewRouter(log)
	if email := NewEmailSender(cfg, log); email != nil {
		r.Register(domain.ChannelEmail, email)
	}
	if whatsapp := NewWhatsAppSender(cfg, log); whatsapp != nil {
		r.Register(domain.ChannelWhatsApp, whatsapp)
	}
	if len(r.senders) == 0 {
		log.Warn("no delivery channel configured; sequence steps will fail")
	}
	return r
}

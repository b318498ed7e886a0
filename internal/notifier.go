package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/go-resty/resty/v2"
	"github.com/xKoRx/hedge/internal/domain"
)

// Notifier entrega una alerta procesada por un canal concreto.
//
// Los notificadores son best-effort: un fallo se loggea y nunca bloquea
// el pipeline ni afecta la persistencia de la alerta.
type Notifier interface {
	// Name identifica el canal en logs.
	Name() string
	// Notify entrega la alerta.
	Notify(ctx context.Context, alert *domain.ProcessedAlert) error
	// Accepts indica si el canal aplica a esta alerta.
	Accepts(alert *domain.ProcessedAlert) bool
}

// ---------- Desktop ----------

// DesktopNotifier notificación del sistema operativo vía beeep.
type DesktopNotifier struct{}

func (n *DesktopNotifier) Name() string { return "desktop" }

func (n *DesktopNotifier) Accepts(alert *domain.ProcessedAlert) bool {
	return alert.Severity.AtLeast(domain.SeverityWarning)
}

func (n *DesktopNotifier) Notify(_ context.Context, alert *domain.ProcessedAlert) error {
	title := fmt.Sprintf("Hedge: %s [%s]", alert.Type, alert.Severity)
	if alert.Severity == domain.SeverityCritical {
		return beeep.Alert(title, alert.Message, "")
	}
	return beeep.Notify(title, alert.Message, "")
}

// ---------- Sound ----------

// SoundNotifier beep audible, con frecuencia según severidad.
type SoundNotifier struct{}

func (n *SoundNotifier) Name() string { return "sound" }

func (n *SoundNotifier) Accepts(alert *domain.ProcessedAlert) bool {
	return alert.Severity.AtLeast(domain.SeverityError)
}

func (n *SoundNotifier) Notify(_ context.Context, alert *domain.ProcessedAlert) error {
	freq := beeep.DefaultFreq
	if alert.Severity == domain.SeverityCritical {
		freq = beeep.DefaultFreq * 2
	}
	return beeep.Beep(freq, beeep.DefaultDuration)
}

// ---------- Webhook ----------

// WebhookNotifier POST JSON de la alerta a un endpoint configurado.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

// NewWebhookNotifier crea el notificador de webhook.
func NewWebhookNotifier(url string) *WebhookNotifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &WebhookNotifier{client: client, url: url}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Accepts(alert *domain.ProcessedAlert) bool {
	return alert.Severity.AtLeast(domain.SeverityWarning)
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert *domain.ProcessedAlert) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(alert).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %d", resp.StatusCode())
	}
	return nil
}

// ---------- Email ----------

// emailPayload cuerpo del request al gateway de correo.
type emailPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Type    string `json:"type"`
}

// EmailNotifier envía la alerta a un gateway HTTP de correo. Solo aplica
// a severidad crítica.
type EmailNotifier struct {
	client   *resty.Client
	endpoint string
}

// NewEmailNotifier crea el notificador de correo.
func NewEmailNotifier(endpoint string) *EmailNotifier {
	client := resty.New().
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &EmailNotifier{client: client, endpoint: endpoint}
}

func (n *EmailNotifier) Name() string { return "email" }

func (n *EmailNotifier) Accepts(alert *domain.ProcessedAlert) bool {
	return alert.Severity == domain.SeverityCritical
}

func (n *EmailNotifier) Notify(ctx context.Context, alert *domain.ProcessedAlert) error {
	payload := emailPayload{
		Subject: fmt.Sprintf("[CRITICAL] Hedge %s on account %s", alert.Type, alert.AccountID),
		Body: fmt.Sprintf("%s\n\naccount: %s\nposition: %s\ntime: %s",
			alert.Message, alert.AccountID, alert.PositionID,
			alert.Timestamp.Format(time.RFC3339)),
		Type: string(alert.Type),
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(n.endpoint)
	if err != nil {
		return fmt.Errorf("email post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("email gateway returned %d", resp.StatusCode())
	}
	return nil
}

// buildNotifiers arma la lista de canales según configuración.
func buildNotifiers(cfg *Config) []Notifier {
	var notifiers []Notifier
	if cfg.DesktopEnabled {
		notifiers = append(notifiers, &DesktopNotifier{})
	}
	if cfg.SoundEnabled {
		notifiers = append(notifiers, &SoundNotifier{})
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.EmailEndpoint != "" {
		notifiers = append(notifiers, NewEmailNotifier(cfg.EmailEndpoint))
	}
	return notifiers
}

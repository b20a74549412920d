package notification

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/resend/resend-go/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

var ErrUnknownKind = errors.New("unknown notification kind")

// Email types recorded in the delivery log
const (
	EmailTypeOrderConfirmation = "order_confirmation"
	EmailTypeOrderShipped      = "order_shipped"
)

// Store is the slice of the data layer the dispatcher reads and logs to
type Store interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	CreateEmailLog(ctx context.Context, entry *models.EmailLog) error
	UpdateEmailLog(ctx context.Context, entry *models.EmailLog) error
}

// Message is one outgoing email
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Sender delivers a message and returns the provider's message id
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

type resendSender struct {
	client *resend.Client
}

// NewResendSender sends through the Resend API
func NewResendSender(apiKey string) Sender {
	return &resendSender{client: resend.NewClient(apiKey)}
}

func (s *resendSender) Send(ctx context.Context, msg *Message) (string, error) {
	resp, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return "", err
	}
	return resp.Id, nil
}

type emailKind struct {
	emailType string
	subject   string
	template  string
}

var kinds = map[string]emailKind{
	models.NotificationOrderConfirmed: {EmailTypeOrderConfirmation, "Order Confirmed - #%s", "order_confirmed.html"},
	models.NotificationOrderShipped:   {EmailTypeOrderShipped, "Your order is on its way! - #%s", "order_shipped.html"},
}

// Dispatcher renders order emails, sends them and records every attempt in
// the email log. Without a sender it runs in development mode: the email is
// logged and marked sent.
type Dispatcher struct {
	store     Store
	sender    Sender
	templates *template.Template
	from      string
	storeName string
	frontend  string
	now       func() time.Time
	logger    *zap.Logger
}

// NewDispatcher builds a dispatcher from email configuration. An empty API
// key selects development mode.
func NewDispatcher(store Store, cfg config.EmailConfig) *Dispatcher {
	var sender Sender
	if cfg.ResendAPIKey != "" {
		sender = NewResendSender(cfg.ResendAPIKey)
	}
	return NewDispatcherWithSender(store, sender, cfg)
}

// NewDispatcherWithSender builds a dispatcher over an explicit sender
func NewDispatcherWithSender(store Store, sender Sender, cfg config.EmailConfig) *Dispatcher {
	tmpl := template.Must(template.New("").Funcs(template.FuncMap{
		"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}).ParseFS(templateFS, "templates/*.html"))

	return &Dispatcher{
		store:     store,
		sender:    sender,
		templates: tmpl,
		from:      fmt.Sprintf("%s <%s>", cfg.StoreName, cfg.FromEmail),
		storeName: cfg.StoreName,
		frontend:  cfg.FrontendURL,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// Notify sends the email for kind right away
func (d *Dispatcher) Notify(ctx context.Context, kind string, order *models.Order) error {
	return d.Dispatch(ctx, kind, order.ID)
}

// Dispatch loads the order, renders the email for kind and sends it. The
// email log row ends up sent or failed either way.
func (d *Dispatcher) Dispatch(ctx context.Context, kind string, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "Dispatcher.Dispatch")
	defer span.End()

	ek, ok := kinds[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	order, err := d.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Items, err = d.store.GetOrderItems(ctx, orderID); err != nil {
		return err
	}
	user, err := d.store.GetUserByID(ctx, order.UserID)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	err = d.templates.ExecuteTemplate(&body, ek.template, map[string]interface{}{
		"Order":       order,
		"StoreName":   d.storeName,
		"FrontendURL": d.frontend,
	})
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to render %s: %w", ek.template, err)
	}

	entry := &models.EmailLog{
		EmailType:      ek.emailType,
		RecipientEmail: user.Email,
		RecipientName:  order.ShippingName,
		Subject:        fmt.Sprintf(ek.subject, order.OrderNumber),
		Status:         models.EmailStatusPending,
		UserID:         &user.ID,
		OrderID:        &order.ID,
	}
	if err := d.store.CreateEmailLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to create email log: %w", err)
	}

	sendErr := d.send(ctx, entry, body.String())
	if sendErr != nil {
		msg := sendErr.Error()
		entry.Status = models.EmailStatusFailed
		entry.ErrorMessage = &msg
		util.RecordError(span, sendErr)
	} else {
		sentAt := d.now()
		entry.Status = models.EmailStatusSent
		entry.SentAt = &sentAt
	}
	util.NotificationsTotal.WithLabelValues(kind, entry.Status).Inc()

	if err := d.store.UpdateEmailLog(ctx, entry); err != nil {
		d.logger.Error("Failed to update email log", zap.Int64("email_log_id", entry.ID), zap.Error(err))
	}

	return sendErr
}

func (d *Dispatcher) send(ctx context.Context, entry *models.EmailLog, html string) error {
	if d.sender == nil {
		d.logger.Info("Email not sent, no API key configured",
			zap.String("to", entry.RecipientEmail),
			zap.String("subject", entry.Subject))
		return nil
	}

	id, err := d.sender.Send(ctx, &Message{
		From:    d.from,
		To:      entry.RecipientEmail,
		Subject: entry.Subject,
		HTML:    html,
	})
	if err != nil {
		d.logger.Error("Email send failed",
			zap.String("to", entry.RecipientEmail),
			zap.String("type", entry.EmailType),
			zap.Error(err))
		return err
	}

	entry.ProviderID = &id
	d.logger.Info("Email sent",
		zap.String("to", entry.RecipientEmail),
		zap.String("type", entry.EmailType),
		zap.String("provider_id", id))
	return nil
}

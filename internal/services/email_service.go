package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/wakaruku/station-auth/internal/models"
	pkglogger "github.com/wakaruku/station-auth/pkg/logger"
)

const alertSendTimeout = 10 * time.Second

// EmailSender delivers one message
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, textBody, htmlBody string) error
}

// SESClient is the subset of the SES API used here
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	client      SESClient
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailService loads the default AWS credential chain for region
func NewAWSSESEmailService(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESEmailServiceWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESEmailServiceWithClient wraps an existing SES client
func NewSESEmailServiceWithClient(client SESClient, fromAddress string, logger *slog.Logger) *AWSSESEmailService {
	return &AWSSESEmailService{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

func (s *AWSSESEmailService) SendEmail(ctx context.Context, to, subject, textBody, htmlBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")},
				Text: &types.Content{Data: aws.String(textBody), Charset: aws.String("UTF-8")},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", pkglogger.SanitizedEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", pkglogger.SanitizedEmail(to)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// SecurityAlertHook emails the account owner when their account is locked,
// their password changes or two-factor is switched off. Sends run in the
// background; Wait drains them on shutdown.
type SecurityAlertHook struct {
	sender EmailSender
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewSecurityAlertHook(sender EmailSender, logger *slog.Logger) *SecurityAlertHook {
	return &SecurityAlertHook{sender: sender, logger: logger}
}

func (h *SecurityAlertHook) OnOutcome(ctx context.Context, event *models.AuthEvent) {
	subject, summary, ok := alertFor(event)
	if !ok || event.Email == "" {
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertSendTimeout)
		defer cancel()

		text, htmlBody := renderAlert(summary, event)
		if err := h.sender.SendEmail(sendCtx, event.Email, subject, text, htmlBody); err != nil {
			h.logger.Warn("security alert not delivered",
				slog.String("event_type", event.EventType),
				slog.Any("error", err))
		}
	}()
}

// Wait blocks until every queued alert has been attempted
func (h *SecurityAlertHook) Wait() {
	h.wg.Wait()
}

func alertFor(event *models.AuthEvent) (subject, summary string, ok bool) {
	switch {
	case event.EventType == models.EventAccountLocked:
		return "Your Wakaruku account has been locked",
			"Your account was temporarily locked after repeated failed sign-in attempts.", true
	case event.EventType == models.EventPasswordChange && event.Success:
		return "Your Wakaruku password was changed",
			"The password for your account was changed and all other sessions were signed out.", true
	case event.EventType == models.EventEmailChange && event.Success:
		return "Your Wakaruku email address was changed",
			"The email address on your account was changed. Alerts now go to the new address.", true
	case event.EventType == models.EventTwoFactorDisable && event.Success:
		return "Two-factor authentication was turned off",
			"Two-factor authentication was disabled on your account.", true
	}
	return "", "", false
}

func renderAlert(summary string, event *models.AuthEvent) (string, string) {
	when := event.CreatedAt.UTC().Format(time.RFC1123)
	ip := event.IPAddress
	if ip == "" {
		ip = "unknown"
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n\nTime: %s\nIP address: %s\n\n", summary, when, ip)
	text.WriteString("If this was not you, contact your station administrator immediately.\n")

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <p>%s</p>
  <p><strong>Time:</strong> %s<br><strong>IP address:</strong> %s</p>
  <p>If this was not you, contact your station administrator immediately.</p>
</body>
</html>
`, html.EscapeString(summary), html.EscapeString(when), html.EscapeString(ip))

	return text.String(), htmlBody
}

package mailer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/config"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/logger"
)

// Purpose says which flow an OTP belongs to; it only changes the wording of the email.
type Purpose string

const (
	PurposeLogin        Purpose = "login"
	PurposeRegistration Purpose = "registration"
)

// Sender delivers one-time passcodes to an address.
type Sender interface {
	SendOTP(ctx context.Context, to, name, code string, purpose Purpose) error
}

// New returns an SMTP sender when a mail host is configured and a logging sender otherwise.
func New(cfg config.MailSettings, log *zap.Logger) Sender {
	if cfg.Host == "" {
		return &LogSender{log: log}
	}
	return NewSMTPSender(cfg)
}

type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(cfg config.MailSettings) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *SMTPSender) SendOTP(ctx context.Context, to, name, code string, purpose Purpose) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := composeOTP(s.from, to, name, code, purpose)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send otp email: %w", err)
	}
	return nil
}

func composeOTP(from, to, name, code string, purpose Purpose) *gomail.Message {
	subject, body := otpContent(name, code, purpose)
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return m
}

func otpContent(name, code string, purpose Purpose) (string, string) {
	greeting := "Hello,"
	if name != "" {
		greeting = fmt.Sprintf("Hello %s,", name)
	}
	switch purpose {
	case PurposeRegistration:
		return "Verify your email address",
			fmt.Sprintf("%s\n\nYour verification code is %s. It expires in a few minutes.\n", greeting, code)
	default:
		return "Your login code",
			fmt.Sprintf("%s\n\nYour one-time login code is %s. It expires in 5 minutes.\nIf this wasn't you, change your password.\n", greeting, code)
	}
}

// LogSender writes the email to the log instead of sending it. Development only.
type LogSender struct {
	log *zap.Logger
}

func (s *LogSender) SendOTP(ctx context.Context, to, _, code string, purpose Purpose) error {
	logger.FromContext(ctx, s.log).Info("otp email (not sent, no mail host configured)",
		zap.String("to", logger.MaskEmail(to)),
		zap.String("purpose", string(purpose)),
		zap.String("code", code),
	)
	return nil
}

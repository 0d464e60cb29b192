// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/smtp"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Config holds SMTP configuration
type Config struct {
	Host        string
	Port        string
	Username    string
	Password    string
	From        string
	FromName    string
	AppName     string
	FrontendURL string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	logger *slog.Logger
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if config.AppName == "" {
		config.AppName = "AMSTAR"
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		logger: logger,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Send delivers a multipart text+HTML message and reports whether the SMTP
// server accepted it. Failures are logged, never returned.
func (s *Service) Send(to, subject, html, text string) bool {
	if !s.IsConfigured() {
		s.logger.Warn("email not configured, dropping message", "to", to, "subject", subject)
		return false
	}
	msg := s.buildMessage(to, subject, html, text)
	if err := s.send(s.server, s.auth, s.config.From, []string{to}, msg); err != nil {
		s.logger.Error("send email", "to", to, "subject", subject, "error", err)
		return false
	}
	s.logger.Info("email sent", "to", to, "subject", subject)
	return true
}

func (s *Service) buildMessage(to, subject, html, text string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	boundary := "amstar-" + strings.ReplaceAll(uuid.NewString(), "-", "")

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", text)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", html)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

// CodeData feeds the verification and reset templates.
type CodeData struct {
	AppName       string
	UserName      string
	Code          string
	Link          string
	ExpiryMinutes int
}

const codeExpiryMinutes = 15

// SendVerificationCode mails an email verification code.
func (s *Service) SendVerificationCode(to, userName, code string) bool {
	data := s.codeData(userName, code, "/verify-email", to)
	html, text, err := renderCode(verificationHTML, verificationText, data)
	if err != nil {
		s.logger.Error("render verification email", "error", err)
		return false
	}
	return s.Send(to, "Verify your "+s.config.AppName+" account", html, text)
}

// SendPasswordResetCode mails a password reset code.
func (s *Service) SendPasswordResetCode(to, userName, code string) bool {
	data := s.codeData(userName, code, "/reset-password", to)
	html, text, err := renderCode(resetHTML, resetText, data)
	if err != nil {
		s.logger.Error("render password reset email", "error", err)
		return false
	}
	return s.Send(to, "Reset your "+s.config.AppName+" password", html, text)
}

func (s *Service) codeData(userName, code, path, email string) CodeData {
	query := url.Values{}
	query.Set("email", email)
	query.Set("code", code)
	return CodeData{
		AppName:       s.config.AppName,
		UserName:      userName,
		Code:          code,
		Link:          strings.TrimRight(s.config.FrontendURL, "/") + path + "?" + query.Encode(),
		ExpiryMinutes: codeExpiryMinutes,
	}
}

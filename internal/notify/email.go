package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// Environment variables read by the email channel.
const (
	EnvEmail      = "PYRA_EMAIL"
	EnvSMTPServer = "PYRA_SMTP_SERVER"
)

// SubjectPrefix is prepended to every email subject.
const SubjectPrefix = "[pyra] "

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends plain-text mail from and to one address.
type Email struct {
	Address string
	Server  string
	Send    SendFunc
}

// NewEmailFromEnv builds an Email notifier from PYRA_EMAIL and
// PYRA_SMTP_SERVER.
func NewEmailFromEnv(getenv func(string) string) (Notifier, error) {
	addr := getenv(EnvEmail)
	server := getenv(EnvSMTPServer)
	if addr == "" || server == "" {
		return nil, errors.New(EnvEmail + " and " + EnvSMTPServer + " must be set")
	}
	return &Email{Address: addr, Server: server, Send: smtp.SendMail}, nil
}

func (e *Email) Channel() string { return ChannelEmail }

// Deliver sends one message. smtp.SendMail takes no context, so ctx is only
// checked before dialing.
func (e *Email) Deliver(ctx context.Context, subject, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	send := e.Send
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(serverAddr(e.Server), nil, e.Address, []string{e.Address}, e.compose(subject, message)); err != nil {
		return fmt.Errorf("send mail via %s: %w", e.Server, err)
	}
	return nil
}

func (e *Email) compose(subject, message string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\r\n", e.Address)
	fmt.Fprintf(&sb, "To: %s\r\n", e.Address)
	fmt.Fprintf(&sb, "Subject: %s%s\r\n", SubjectPrefix, headerSafe(subject))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(strings.ReplaceAll(message, "\n", "\r\n"))
	return []byte(sb.String())
}

func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// serverAddr appends the default SMTP port when none is given.
func serverAddr(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, "25")
}

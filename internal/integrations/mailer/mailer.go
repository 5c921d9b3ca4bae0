// Package mailer delivers alert email over SMTP with multipart HTML and
// plain-text bodies.
package mailer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"
)

type Message struct {
	To       string
	From     string
	Subject  string
	HTMLBody string
	TextBody string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type SMTP struct {
	addr        string
	host        string
	defaultFrom string
	auth        smtp.Auth
}

func NewSMTP(host string, port int, username, password, from string) (*SMTP, error) {
	if host == "" || port == 0 {
		return nil, errors.New("smtp host and port are required")
	}
	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTP{
		addr:        fmt.Sprintf("%s:%d", host, port),
		host:        host,
		defaultFrom: from,
		auth:        auth,
	}, nil
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.To == "" {
		return errors.New("no recipient")
	}
	from := msg.From
	if from == "" {
		from = s.defaultFrom
	}
	if from == "" {
		return errors.New("no sender")
	}

	body, contentType := buildBody(msg)

	headers := []string{
		fmt.Sprintf("From: %s", from),
		fmt.Sprintf("To: %s", msg.To),
		fmt.Sprintf("Subject: %s", msg.Subject),
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: %s", contentType),
	}
	raw := strings.Join(headers, "\r\n") + "\r\n\r\n" + body

	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Wrap(smtp.SendMail(s.addr, s.auth, from, []string{msg.To}, []byte(raw)), "smtp send")
}

func buildBody(msg Message) (body, contentType string) {
	switch {
	case msg.HTMLBody != "" && msg.TextBody != "":
		boundary := multipartBoundary()
		var sb strings.Builder
		sb.WriteString("This is a multipart message in MIME format.\r\n")
		fmt.Fprintf(&sb, "--%s\r\n", boundary)
		sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		sb.WriteString(msg.TextBody)
		sb.WriteString("\r\n")
		fmt.Fprintf(&sb, "--%s\r\n", boundary)
		sb.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		sb.WriteString(msg.HTMLBody)
		sb.WriteString("\r\n")
		fmt.Fprintf(&sb, "--%s--\r\n", boundary)
		return sb.String(), fmt.Sprintf("multipart/alternative; boundary=%q", boundary)
	case msg.HTMLBody != "":
		return msg.HTMLBody, "text/html; charset=UTF-8"
	default:
		return msg.TextBody, "text/plain; charset=UTF-8"
	}
}

func multipartBoundary() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "part-" + hex.EncodeToString(b)
}

package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"poflow/internal/config"
)

// SMTP delivers through the enmime builder with a sender bound to the call's
// context, so dial and every protocol exchange stop at its deadline.
type SMTP struct {
	addr string
	host string
	auth smtp.Auth
	// sender overrides delivery, for tests.
	sender enmime.Sender
}

func NewSMTP(cfg config.Config) *SMTP {
	addr := net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort))
	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPHost)
	}
	return &SMTP{addr: addr, host: cfg.SMTPHost, auth: auth}
}

func (t *SMTP) Name() string    { return "smtp" }
func (t *SMTP) Simulated() bool { return false }

func (t *SMTP) Send(ctx context.Context, msg *Message) (string, error) {
	sender := t.sender
	if sender == nil {
		sender = &ctxSender{ctx: ctx, addr: t.addr, host: t.host, auth: t.auth}
	}
	if err := msg.Builder.Send(sender); err != nil {
		switch {
		case ctx.Err() != nil:
			return "", fmt.Errorf("smtp send: %w", ctx.Err())
		case errors.Is(err, os.ErrDeadlineExceeded):
			return "", fmt.Errorf("smtp send: %w: %w", context.DeadlineExceeded, err)
		}
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return msg.ID, nil
}

// ctxSender is an enmime.Sender for a single delivery. The connection
// deadline follows ctx and is pulled in when ctx is cancelled.
type ctxSender struct {
	ctx  context.Context
	addr string
	host string
	auth smtp.Auth
}

func (s *ctxSender) Send(reversePath string, recipients []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(s.ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	if deadline, ok := s.ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(s.ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.auth != nil {
		if err := c.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(reversePath); err != nil {
		return err
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// Gmail sends through the Gmail API with an OAuth refresh token.
type Gmail struct {
	service *gmail.Service
}

func NewGmail(ctx context.Context, cfg config.Config) (*Gmail, error) {
	for name, value := range map[string]string{
		"GMAIL_CLIENT_ID":     cfg.GmailClientID,
		"GMAIL_CLIENT_SECRET": cfg.GmailClientSecret,
		"GMAIL_REFRESH_TOKEN": cfg.GmailRefreshToken,
	} {
		if err := cfg.Require(name, value); err != nil {
			return nil, err
		}
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GmailRedirectURI,
		Scopes:       []string{gmail.GmailSendScope},
	}
	tokenSource := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.GmailRefreshToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, err
	}
	return &Gmail{service: svc}, nil
}

func (t *Gmail) Name() string    { return "gmail" }
func (t *Gmail) Simulated() bool { return false }

// Send keeps Bcc in the raw headers; Gmail strips it on delivery.
func (t *Gmail) Send(ctx context.Context, msg *Message) (string, error) {
	withBCC := *msg
	if len(msg.BCC) > 0 {
		withBCC.Builder = msg.Builder.Header("Bcc", strings.Join(msg.BCC, ", "))
	}
	raw, err := Encode(&withBCC)
	if err != nil {
		return "", err
	}
	sent, err := t.service.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.RawURLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail send: %w", err)
	}
	return sent.Id, nil
}

// simulatedKeep bounds how many delivered messages Simulated remembers.
const simulatedKeep = 20

// Simulated builds the message but never delivers it. It counts sends and
// keeps the most recent few for inspection.
type Simulated struct {
	mu     sync.Mutex
	count  int
	recent []*Message
}

func (t *Simulated) Name() string    { return "simulated" }
func (t *Simulated) Simulated() bool { return true }

func (t *Simulated) Send(ctx context.Context, msg *Message) (string, error) {
	if _, err := Encode(msg); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	t.recent = append(t.recent, msg)
	if len(t.recent) > simulatedKeep {
		t.recent = slices.Delete(t.recent, 0, len(t.recent)-simulatedKeep)
	}
	return "sim-" + uuid.NewString(), nil
}

// Count is the number of messages sent since start.
func (t *Simulated) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Recent returns the retained messages, oldest first.
func (t *Simulated) Recent() []*Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.recent)
}

// Encode renders msg as RFC 5322 bytes.
func Encode(msg *Message) ([]byte, error) {
	part, err := msg.Builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// NewTransport picks the transport named by MAIL_TRANSPORT. "auto" prefers
// SMTP, then Gmail, and falls back to simulated delivery when neither is
// configured.
func NewTransport(ctx context.Context, cfg config.Config) (Transport, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.MailTransport))
	if mode == "" || mode == "auto" {
		switch {
		case cfg.SMTPHost != "":
			mode = "smtp"
		case cfg.GmailRefreshToken != "":
			mode = "gmail"
		default:
			mode = "simulated"
		}
	}
	switch mode {
	case "smtp":
		if err := cfg.Require("SMTP_HOST", cfg.SMTPHost); err != nil {
			return nil, err
		}
		return NewSMTP(cfg), nil
	case "gmail":
		return NewGmail(ctx, cfg)
	case "simulated", "mock":
		return &Simulated{}, nil
	}
	return nil, fmt.Errorf("unknown MAIL_TRANSPORT %q", cfg.MailTransport)
}

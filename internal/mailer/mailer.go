package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"github.com/shopspring/decimal"

	"poflow/internal"
)

type Attachment struct {
	Path     string
	Filename string
}

func (a Attachment) name() string {
	if a.Filename != "" {
		return a.Filename
	}
	return filepath.Base(a.Path)
}

type Request struct {
	To                []string
	CC                []string
	BCC               []string
	Subject           string
	OrderNumber       string
	VendorName        string
	OrderDate         string
	DueDate           string
	TotalAmount       decimal.Decimal
	AdditionalMessage string
	Attachments       []Attachment
}

// Recipients returns every address the message goes to.
func (r Request) Recipients() []string {
	out := make([]string, 0, len(r.To)+len(r.CC)+len(r.BCC))
	for _, list := range [][]string{r.To, r.CC, r.BCC} {
		for _, addr := range list {
			if addr = strings.TrimSpace(addr); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

func (r Request) subject() string {
	if s := strings.TrimSpace(r.Subject); s != "" {
		return s
	}
	return "발주서 전송 - " + r.OrderNumber
}

// Transport delivers a built message. Simulated transports report a
// synthesized id and never contact a provider.
type Transport interface {
	Name() string
	Simulated() bool
	Send(ctx context.Context, msg *Message) (string, error)
}

// Message is a fully built MIME message plus its envelope.
type Message struct {
	ID         string
	From       string
	Recipients []string
	BCC        []string
	Builder    enmime.MailBuilder
}

// Service composes and dispatches purchase-order mail. The transport is
// fixed at construction.
type Service struct {
	transport Transport
	settings  *SettingsCache
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewService(transport Transport, settings *SettingsCache, timeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{transport: transport, settings: settings, timeout: timeout, now: time.Now, logger: logger}
}

func (s *Service) Mode() string { return s.transport.Name() }

func (s *Service) Simulated() bool { return s.transport.Simulated() }

// Dispatch sends req. Failures are returned both as the error and inside the
// result so callers can report them alongside other stage results.
func (s *Service) Dispatch(ctx context.Context, req Request) (internal.DispatchResult, error) {
	res := internal.DispatchResult{
		Mode:       s.transport.Name(),
		Simulated:  s.transport.Simulated(),
		Recipients: req.Recipients(),
	}

	msg, err := s.build(ctx, req)
	if err != nil {
		return s.fail(res, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	id, err := s.transport.Send(ctx, msg)
	if err != nil {
		return s.fail(res, err)
	}

	s.logger.Info("purchase order mail sent", "mode", res.Mode, "message_id", id, "recipients", len(res.Recipients))
	res.Success = true
	res.MessageID = id
	return res, nil
}

func (s *Service) fail(res internal.DispatchResult, err error) (internal.DispatchResult, error) {
	err = internal.NewStageError(internal.CodeDispatchFailed, err)
	s.logger.Warn("purchase order mail failed", "mode", res.Mode, "error", err)
	res.Success = false
	res.Error = err.Error()
	res.Code = internal.CodeDispatchFailed
	return res, err
}

func (s *Service) build(ctx context.Context, req Request) (*Message, error) {
	to, err := parseAddrs(req.To)
	if err != nil {
		return nil, err
	}
	if len(to) == 0 {
		return nil, errors.New("at least one recipient required")
	}
	cc, err := parseAddrs(req.CC)
	if err != nil {
		return nil, err
	}
	bcc, err := parseAddrs(req.BCC)
	if err != nil {
		return nil, err
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load email settings: %w", err)
	}
	if strings.TrimSpace(settings.FromAddress) == "" {
		return nil, errors.New("sender address not configured")
	}

	html, text, err := RenderBody(req, s.now())
	if err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}

	id := uuid.NewString()
	domain := settings.FromAddress[strings.LastIndex(settings.FromAddress, "@")+1:]
	b := enmime.Builder().
		From(settings.FromName, settings.FromAddress).
		ToAddrs(to).
		CCAddrs(cc).
		BCCAddrs(bcc).
		Subject(req.subject()).
		Date(s.now()).
		Header("Message-ID", fmt.Sprintf("<%s@%s>", id, domain)).
		HTML([]byte(html)).
		Text([]byte(text))

	for _, a := range req.Attachments {
		content, err := os.ReadFile(a.Path)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		b = b.AddAttachment(content, contentType(a.name()), a.name())
	}

	msg := &Message{ID: id, From: settings.FromAddress, Recipients: req.Recipients(), Builder: b}
	for _, a := range bcc {
		msg.BCC = append(msg.BCC, a.String())
	}
	return msg, nil
}

func parseAddrs(list []string) ([]mail.Address, error) {
	out := make([]mail.Address, 0, len(list))
	for _, raw := range list {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		addr, err := mail.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient %q: %w", raw, err)
		}
		out = append(out, *addr)
	}
	return out, nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}

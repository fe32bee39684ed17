package mailer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/shopspring/decimal"

	"poflow/internal"
	"poflow/internal/config"
	"poflow/internal/logging"
)

type captureSender struct {
	from       string
	recipients []string
	raw        []byte
	err        error
}

func (s *captureSender) Send(reversePath string, recipients []string, msg []byte) error {
	s.from = reversePath
	s.recipients = recipients
	s.raw = msg
	return s.err
}

type metaMap map[string]string

func (m metaMap) GetMetadata(ctx context.Context, key string) (*string, error) {
	v, ok := m[key]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func newService(t Transport, timeout time.Duration) *Service {
	settings := NewSettingsCache(nil, Settings{FromAddress: "po@example.com", FromName: "발주 시스템"}, time.Minute, nil)
	return NewService(t, settings, timeout, logging.Discard())
}

func attachment(t *testing.T, name string) Attachment {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatalf("write attachment: %v", err)
	}
	return Attachment{Path: path}
}

func TestDispatchSMTPBuildsMessage(t *testing.T) {
	sender := &captureSender{}
	svc := newService(&SMTP{sender: sender}, time.Second)

	res, err := svc.Dispatch(context.Background(), Request{
		To:                []string{"vendor@example.com"},
		CC:                []string{"manager@example.com"},
		BCC:               []string{"audit@example.com"},
		OrderNumber:       "PO-20240101-ABCD1234",
		VendorName:        "이노에너지",
		OrderDate:         "2024-01-01",
		TotalAmount:       decimal.NewFromInt(1234567),
		AdditionalMessage: "납기 엄수 부탁드립니다",
		Attachments:       []Attachment{attachment(t, "po.xlsx"), attachment(t, "po.pdf")},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !res.Success || res.Simulated || res.Mode != "smtp" || res.MessageID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !slices.Equal(sender.recipients, []string{"vendor@example.com", "manager@example.com", "audit@example.com"}) {
		t.Fatalf("unexpected envelope recipients %v", sender.recipients)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(sender.raw))
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if got := env.GetHeader("Subject"); got != "발주서 전송 - PO-20240101-ABCD1234" {
		t.Fatalf("unexpected subject %q", got)
	}
	if len(env.Attachments) != 2 {
		t.Fatalf("expected 2 attachments, got %d", len(env.Attachments))
	}
	for _, want := range []string{"발주번호: PO-20240101-ABCD1234", "₩1,234,567", "2024년 1월 1일", "납기 엄수"} {
		if !strings.Contains(env.Text, want) {
			t.Fatalf("text body missing %q:\n%s", want, env.Text)
		}
	}
	if !strings.Contains(env.HTML, "이노에너지") {
		t.Fatalf("html body missing vendor")
	}
}

func TestDispatchSimulated(t *testing.T) {
	sim := &Simulated{}
	svc := newService(sim, 0)
	res, err := svc.Dispatch(context.Background(), Request{To: []string{"v@example.com"}, Subject: "custom"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !res.Simulated || !strings.HasPrefix(res.MessageID, "sim-") || sim.Count() != 1 || len(sim.Recent()) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDispatchFailures(t *testing.T) {
	cases := []struct {
		name string
		svc  *Service
		req  Request
	}{
		{name: "no recipients", svc: newService(&Simulated{}, 0), req: Request{}},
		{name: "bad address", svc: newService(&Simulated{}, 0), req: Request{To: []string{"not an address"}}},
		{name: "missing attachment", svc: newService(&Simulated{}, 0), req: Request{To: []string{"v@example.com"}, Attachments: []Attachment{{Path: "/nonexistent/po.pdf"}}}},
		{name: "smtp error", svc: newService(&SMTP{sender: &captureSender{err: errors.New("relay denied")}}, time.Second), req: Request{To: []string{"v@example.com"}}},
	}
	for _, tc := range cases {
		res, err := tc.svc.Dispatch(context.Background(), tc.req)
		if internal.CodeOf(err) != internal.CodeDispatchFailed {
			t.Fatalf("%s: expected DispatchFailed, got %v", tc.name, err)
		}
		if res.Success || res.Code != internal.CodeDispatchFailed || res.Error == "" {
			t.Fatalf("%s: unexpected result %+v", tc.name, res)
		}
	}
}

func listenSMTP(t *testing.T, serve func(net.Conn)) config.Config {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serve(conn)
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return config.Config{SMTPHost: "127.0.0.1", SMTPPort: addr.Port}
}

func TestDispatchTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	cfg := listenSMTP(t, func(conn net.Conn) {
		defer conn.Close()
		<-release
	})
	svc := newService(NewSMTP(cfg), 50*time.Millisecond)

	start := time.Now()
	res, err := svc.Dispatch(context.Background(), Request{To: []string{"v@example.com"}})
	if !errors.Is(err, context.DeadlineExceeded) || res.Success {
		t.Fatalf("expected deadline error, got %+v %v", res, err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("send outlived its deadline by %s", elapsed)
	}
}

func TestSMTPDelivers(t *testing.T) {
	got := make(chan string, 1)
	cfg := listenSMTP(t, func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(line string) { _, _ = fmt.Fprintf(conn, "%s\r\n", line) }
		reply("220 localhost ESMTP")
		var rcpts []string
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(cmd, "MAIL FROM"):
				reply("250 ok")
			case strings.HasPrefix(cmd, "RCPT TO"):
				rcpts = append(rcpts, strings.TrimSpace(line))
				reply("250 ok")
			case cmd == "DATA":
				reply("354 go ahead")
				var body strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					body.WriteString(l)
				}
				got <- strings.Join(rcpts, ",") + "\n" + body.String()
				reply("250 queued")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("502 unknown")
			}
		}
	})
	svc := newService(NewSMTP(cfg), 5*time.Second)

	res, err := svc.Dispatch(context.Background(), Request{To: []string{"v@example.com"}, CC: []string{"c@example.com"}, Subject: "PO-77"})
	if err != nil || !res.Success || res.Simulated {
		t.Fatalf("dispatch: %+v %v", res, err)
	}
	select {
	case data := <-got:
		if !strings.Contains(data, "v@example.com") || !strings.Contains(data, "c@example.com") || !strings.Contains(data, "PO-77") {
			t.Fatalf("unexpected delivery:\n%s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received the message")
	}
}

func TestSimulatedConcurrentSends(t *testing.T) {
	sim := &Simulated{}
	svc := newService(sim, 0)
	const n = simulatedKeep + 10

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Dispatch(context.Background(), Request{To: []string{"v@example.com"}}); err != nil {
				t.Errorf("dispatch: %v", err)
			}
		}()
	}
	wg.Wait()

	if sim.Count() != n {
		t.Fatalf("expected %d sends, got %d", n, sim.Count())
	}
	if got := len(sim.Recent()); got != simulatedKeep {
		t.Fatalf("expected %d retained messages, got %d", simulatedKeep, got)
	}
}

func TestSettingsCacheTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	meta := metaMap{KeyFromAddress: "first@example.com"}
	cache := NewSettingsCache(meta, Settings{FromAddress: "env@example.com", FromName: "env"}, time.Minute, func() time.Time { return now })

	s, _ := cache.Get(context.Background())
	if s.FromAddress != "first@example.com" || s.FromName != "env" {
		t.Fatalf("unexpected settings %+v", s)
	}

	meta[KeyFromAddress] = "second@example.com"
	now = now.Add(30 * time.Second)
	if s, _ := cache.Get(context.Background()); s.FromAddress != "first@example.com" {
		t.Fatalf("cache refreshed before ttl: %+v", s)
	}
	now = now.Add(31 * time.Second)
	if s, _ := cache.Get(context.Background()); s.FromAddress != "second@example.com" {
		t.Fatalf("cache not refreshed after ttl: %+v", s)
	}

	meta[KeyFromAddress] = "third@example.com"
	cache.Invalidate()
	if s, _ := cache.Get(context.Background()); s.FromAddress != "third@example.com" {
		t.Fatalf("invalidate ignored: %+v", s)
	}
}

func TestNewTransportSelection(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		cfg  config.Config
		want string
	}{
		{cfg: config.Config{MailTransport: "auto"}, want: "simulated"},
		{cfg: config.Config{MailTransport: "auto", SMTPHost: "smtp.example.com", SMTPPort: 587}, want: "smtp"},
		{cfg: config.Config{MailTransport: "simulated", SMTPHost: "smtp.example.com"}, want: "simulated"},
	}
	for _, tc := range cases {
		tr, err := NewTransport(ctx, tc.cfg)
		if err != nil || tr.Name() != tc.want {
			t.Fatalf("%+v: got %v %v", tc.cfg, tr, err)
		}
	}
	if _, err := NewTransport(ctx, config.Config{MailTransport: "gmail"}); err == nil {
		t.Fatalf("expected gmail credential error")
	}
	if _, err := NewTransport(ctx, config.Config{MailTransport: "pigeon"}); err == nil {
		t.Fatalf("expected unknown transport error")
	}
}

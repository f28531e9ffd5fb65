package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"radar-engine/internal/domain"
)

// EmailLimit caps the plain-text body.
const EmailLimit = 100_000

// FingerprintHeader carries the candidate on outgoing mail so replies can be matched.
const FingerprintHeader = "X-Radar-Fingerprint"

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// SMTPChannel sends one plain-text email per candidate over STARTTLS.
type SMTPChannel struct {
	cfg SMTPConfig
	now func() time.Time
}

func NewSMTPChannel(cfg SMTPConfig) *SMTPChannel {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPChannel{cfg: cfg, now: time.Now}
}

func (s *SMTPChannel) Name() string { return "smtp" }

// FormatEmail returns subject and body for m.
func FormatEmail(m Message) (subject, body string, truncated bool) {
	subject = "[Reddit Radar] " + m.Title()

	var hdr strings.Builder
	hdr.WriteString(m.Summary())
	if m.Interactive() {
		hdr.WriteString("\n\nActions:\n")
		for _, a := range m.Actions {
			switch {
			case a.URL != "":
				fmt.Fprintf(&hdr, "  %s: %s\n", strings.ToUpper(a.Kind), a.URL)
			case a.Token != "":
				fmt.Fprintf(&hdr, "  %s: reply with \"%s %s\"\n", strings.ToUpper(a.Kind), strings.ToUpper(a.Kind), a.Token)
			}
		}
		hdr.WriteString("To edit, reply with the EDIT line followed by your replacement text.")
	}
	body, truncated = Fit(hdr.String(), m.Body(), "\n\n", EmailLimit)
	return subject, body, truncated
}

// BuildEmail renders the RFC 5322 message.
func BuildEmail(from, to string, at time.Time, m Message) ([]byte, bool, error) {
	subject, body, truncated := FormatEmail(m)

	var h mail.Header
	h.SetDate(at)
	h.SetSubject(subject)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	var rcpts []*mail.Address
	for _, addr := range splitAddrs(to) {
		rcpts = append(rcpts, &mail.Address{Address: addr})
	}
	h.SetAddressList("To", rcpts)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set(FingerprintHeader, m.Candidate.Fingerprint)
	if err := h.GenerateMessageID(); err != nil {
		return nil, false, err
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, false, err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, false, err
	}
	if err := w.Close(); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), truncated, nil
}

func (s *SMTPChannel) Send(ctx context.Context, m Message) (Result, error) {
	raw, truncated, err := BuildEmail(s.cfg.From, s.cfg.To, s.now(), m)
	if err != nil {
		return Result{}, &PermanentError{Channel: "smtp", Err: err}
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	c, err := smtp.DialStartTLS(addr, &tls.Config{MinVersion: tls.VersionTLS12, ServerName: s.cfg.Host})
	if err != nil {
		return Result{}, &domain.TransientError{Op: "smtp dial", Err: err}
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if err := c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
		return Result{}, &PermanentError{Channel: "smtp", Err: fmt.Errorf("auth: %w", err)}
	}
	if err := c.SendMail(s.cfg.From, splitAddrs(s.cfg.To), bytes.NewReader(raw)); err != nil {
		return Result{}, &domain.TransientError{Op: "smtp send", Err: err}
	}
	_ = c.Quit()
	return Result{Truncated: truncated}, nil
}

func splitAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

package approval

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"radar-engine/internal/notify"
	"radar-engine/internal/scheduler"
)

type MailConfig struct {
	Addr     string
	Username string
	Password string
	Mailbox  string
	Interval time.Duration
}

// Verifier checks a signed action token.
type Verifier interface {
	Verify(token string) (fingerprint, action string, err error)
}

// MailSource reads replies to notification emails over IMAP. The first
// non-empty line of a reply is "APPROVE <token>", "SKIP <token>" or
// "EDIT <token>"; for EDIT the following lines, up to the quoted original,
// are the replacement text. Handled replies are marked \Seen.
type MailSource struct {
	cfg     MailConfig
	tokens  Verifier
	machine *Machine
	log     *zap.Logger
}

func NewMailSource(cfg MailConfig, tokens Verifier, m *Machine) *MailSource {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &MailSource{cfg: cfg, tokens: tokens, machine: m, log: m.log.Named("imap")}
}

// Run polls the mailbox every interval until ctx is cancelled.
func (s *MailSource) Run(ctx context.Context) error {
	s.log.Info("watching mailbox for replies", zap.String("mailbox", s.cfg.Mailbox), zap.Duration("interval", s.cfg.Interval))
	scheduler.Every(ctx, s.cfg.Interval, "imap-replies", s.log, func(ctx context.Context) error {
		_, err := s.PollOnce(ctx)
		return err
	})
	return nil
}

// PollOnce handles every unseen reply and returns how many carried a command.
func (s *MailSource) PollOnce(ctx context.Context) (int, error) {
	c, err := dialIMAP(ctx, s.cfg.Addr, s.cfg.Username, s.cfg.Password)
	if err != nil {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	defer logoutAndClose(c, s.log)

	if _, err := c.Select(s.cfg.Mailbox, nil).Wait(); err != nil {
		return 0, fmt.Errorf("imap select %s: %w", s.cfg.Mailbox, err)
	}
	msgs, err := fetchUnseen(ctx, c, 100)
	if err != nil {
		return 0, err
	}

	handled := 0
	var done []imap.UID
	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}
		cmd, err := ParseReply(msg.raw)
		if err != nil {
			// not ours; leave it unread for a human
			s.log.Debug("ignoring message", zap.Uint32("uid", uint32(msg.uid)), zap.Error(err))
			continue
		}
		handled++
		s.apply(ctx, cmd)
		done = append(done, msg.uid)
	}
	if err := markSeen(c, done); err != nil {
		return handled, err
	}
	return handled, nil
}

func (s *MailSource) apply(ctx context.Context, cmd ReplyCommand) {
	fp, action, err := s.tokens.Verify(cmd.Token)
	if err != nil {
		s.log.Warn("reply with bad token", zap.String("action", cmd.Action), zap.Error(err))
		return
	}
	if action != cmd.Action {
		s.log.Warn("reply action does not match token", zap.String("fingerprint", fp),
			zap.String("reply", cmd.Action), zap.String("token", action))
		return
	}
	actor := "email"
	if cmd.From != "" {
		actor = "email:" + cmd.From
	}
	c, err := s.machine.Do(ctx, action, fp, actor, cmd.Text)
	s.log.Info("email action", zap.String("fingerprint", fp), zap.String("action", action),
		zap.String("actor", actor), zap.String("outcome", Describe(c, err)))
}

type ReplyCommand struct {
	Action string
	Token  string
	Text   string
	From   string
}

var errNoCommand = errors.New("no action command in reply")

// ParseReply extracts the command from a raw RFC 5322 reply.
func ParseReply(raw []byte) (ReplyCommand, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return ReplyCommand{}, fmt.Errorf("parse mail: %w", err)
	}
	var cmd ReplyCommand
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		cmd.From = from[0].Address
	}

	body, err := plainText(mr)
	if err != nil {
		return ReplyCommand{}, err
	}
	action, token, text, ok := parseCommand(body)
	if !ok {
		return ReplyCommand{}, errNoCommand
	}
	cmd.Action, cmd.Token, cmd.Text = action, token, text
	return cmd, nil
}

func plainText(mr *mail.Reader) (string, error) {
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", errNoCommand
		}
		if err != nil {
			return "", fmt.Errorf("read part: %w", err)
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		if ct, _, _ := h.ContentType(); ct != "" && ct != "text/plain" {
			continue
		}
		b, err := io.ReadAll(io.LimitReader(p.Body, 1<<20))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func parseCommand(body string) (action, token, text string, ok bool) {
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	var rest []string
	found := false
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if !found {
			f := strings.Fields(line)
			if len(f) == 0 {
				continue
			}
			if len(f) < 2 {
				return "", "", "", false
			}
			action = strings.ToLower(f[0])
			switch action {
			case notify.ActionApprove, notify.ActionEdit, notify.ActionSkip:
			default:
				return "", "", "", false
			}
			token = f[1]
			found = true
			continue
		}
		if quoteStart(line) {
			break
		}
		rest = append(rest, line)
	}
	if !found {
		return "", "", "", false
	}
	return action, token, strings.TrimSpace(strings.Join(rest, "\n")), true
}

// quoteStart spots where a mail client begins quoting the original message.
func quoteStart(line string) bool {
	l := strings.TrimSpace(line)
	if strings.HasPrefix(l, ">") {
		return true
	}
	if strings.HasPrefix(l, "On ") && strings.HasSuffix(l, "wrote:") {
		return true
	}
	return strings.HasPrefix(l, "-----Original Message-----")
}

type rawMessage struct {
	uid imap.UID
	raw []byte
}

func dialIMAP(ctx context.Context, addr, username, password string) (*imapclient.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if addr == "" {
		return nil, errors.New("imap addr is required")
	}
	if username == "" || password == "" {
		return nil, errors.New("imap username/password is required")
	}
	c, err := imapclient.DialTLS(addr, &imapclient.Options{
		TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	})
	if err != nil {
		return nil, fmt.Errorf("imap dial tls: %w", err)
	}
	if err := c.Login(username, password).Wait(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	return c, nil
}

// fetchUnseen pulls up to max unseen messages with BODY.PEEK[] so nothing is
// marked read until it has been handled.
func fetchUnseen(ctx context.Context, c *imapclient.Client, max int) ([]rawMessage, error) {
	data, err := c.UIDSearch(&imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap uid search unseen: %w", err)
	}
	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > max {
		uids = uids[:max]
	}

	section := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierNone, Peek: true}
	cmd := c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	defer func() { _ = cmd.Close() }()

	out := make([]rawMessage, 0, len(uids))
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			return nil, fmt.Errorf("imap fetch collect: %w", err)
		}
		if b := buf.FindBodySection(section); b != nil {
			out = append(out, rawMessage{uid: buf.UID, raw: append([]byte(nil), b...)})
		}
	}
	if err := cmd.Close(); err != nil {
		return nil, fmt.Errorf("imap fetch close: %w", err)
	}
	return out, nil
}

func markSeen(c *imapclient.Client, uids []imap.UID) error {
	if len(uids) == 0 {
		return nil
	}
	cmd := c.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("imap store add seen: %w", err)
	}
	return nil
}

func logoutAndClose(c *imapclient.Client, log *zap.Logger) {
	if err := c.Logout().Wait(); err != nil {
		log.Debug("imap logout", zap.Error(err))
	}
	_ = c.Close()
}

package approval

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"radar-engine/internal/domain"
	"radar-engine/internal/notify"
)

// TelegramListener turns inline-button presses in the configured chat into
// machine actions. Updates from any other chat are ignored.
type TelegramListener struct {
	bot         *notify.Bot
	chatID      string
	machine     *Machine
	pollTimeout time.Duration
	log         *zap.Logger

	offset  int64
	editing map[string]pendingEdit // by chat id
}

type pendingEdit struct {
	fingerprint string
	messageID   int64
	original    string
}

func NewTelegramListener(bot *notify.Bot, chatID string, m *Machine, pollTimeout time.Duration) *TelegramListener {
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	return &TelegramListener{
		bot:         bot,
		chatID:      chatID,
		machine:     m,
		pollTimeout: pollTimeout,
		log:         m.log.Named("telegram"),
		editing:     map[string]pendingEdit{},
	}
}

// Run long-polls until ctx is cancelled. Poll errors back off up to a minute.
func (l *TelegramListener) Run(ctx context.Context) error {
	l.log.Info("listening for telegram actions", zap.String("chat", l.chatID))
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return nil
		}
		ups, err := l.bot.GetUpdates(ctx, l.offset, l.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := bo.NextBackOff()
			l.log.Warn("getUpdates failed", zap.Duration("retry_in", wait), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		for _, u := range ups {
			l.Handle(ctx, u)
		}
	}
}

// Handle processes one update and advances the offset past it.
func (l *TelegramListener) Handle(ctx context.Context, u notify.Update) {
	if u.UpdateID >= l.offset {
		l.offset = u.UpdateID + 1
	}
	switch {
	case u.CallbackQuery != nil:
		l.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		l.handleMessage(ctx, u.Message)
	}
}

func (l *TelegramListener) trusted(chat notify.TgChat) bool {
	return strconv.FormatInt(chat.ID, 10) == l.chatID
}

func actorOf(u *notify.TgUser) string {
	if u == nil {
		return "telegram"
	}
	if u.Username != "" {
		return "telegram:" + u.Username
	}
	return "telegram:" + strconv.FormatInt(u.ID, 10)
}

func (l *TelegramListener) handleCallback(ctx context.Context, cb *notify.CallbackQuery) {
	if cb.Message == nil || !l.trusted(cb.Message.Chat) {
		l.log.Warn("callback from untrusted chat ignored", zap.Int64("user", cb.From.ID))
		l.answer(ctx, cb.ID, "Not allowed")
		return
	}
	action, fp, ok := notify.ParseCallback(cb.Data)
	if !ok {
		l.answer(ctx, cb.ID, "Unknown action")
		return
	}
	actor := actorOf(&cb.From)

	if action == notify.ActionEdit {
		c, err := l.machine.Get(ctx, fp)
		if err != nil || c.Status != domain.StatusPendingApproval {
			l.answer(ctx, cb.ID, Describe(c, conflictOr(err, c, fp)))
			return
		}
		l.editing[l.chatID] = pendingEdit{fingerprint: fp, messageID: cb.Message.MessageID, original: cb.Message.Text}
		l.answer(ctx, cb.ID, "Send the replacement text")
		l.send(ctx, "✏️ Send the replacement reply as your next message, or /cancel.")
		return
	}

	c, err := l.machine.Do(ctx, action, fp, actor, "")
	outcome := Describe(c, err)
	l.answer(ctx, cb.ID, outcome)
	l.annotate(ctx, cb.Message.MessageID, cb.Message.Text, outcome, actor)
	l.logOutcome(fp, action, actor, err)
}

func (l *TelegramListener) handleMessage(ctx context.Context, msg *notify.TgMessage) {
	if !l.trusted(msg.Chat) {
		return
	}
	text := strings.TrimSpace(msg.Text)
	pending, editing := l.editing[l.chatID]

	switch {
	case text == "/cancel":
		if editing {
			delete(l.editing, l.chatID)
			l.send(ctx, "Edit cancelled.")
		}
	case editing && text != "" && !strings.HasPrefix(text, "/"):
		delete(l.editing, l.chatID)
		actor := actorOf(msg.From)
		c, err := l.machine.Edit(ctx, pending.fingerprint, actor, text)
		outcome := Describe(c, err)
		l.send(ctx, outcome)
		l.annotate(ctx, pending.messageID, pending.original, outcome, actor)
		l.logOutcome(pending.fingerprint, notify.ActionEdit, actor, err)
	}
}

// conflictOr explains why an edit cannot start.
func conflictOr(err error, c domain.Candidate, fp string) error {
	if err != nil {
		return err
	}
	return &domain.StateConflictError{Fingerprint: fp, From: c.Status, To: domain.StatusEdited, Reason: "not pending approval"}
}

func (l *TelegramListener) answer(ctx context.Context, id, text string) {
	if err := l.bot.AnswerCallbackQuery(ctx, id, text); err != nil {
		l.log.Warn("answerCallbackQuery", zap.Error(err))
	}
}

func (l *TelegramListener) send(ctx context.Context, text string) {
	if _, err := l.bot.SendMessage(ctx, l.chatID, html.EscapeString(text), nil); err != nil {
		l.log.Warn("sendMessage", zap.Error(err))
	}
}

// annotate rewrites the notification with the outcome and drops its buttons.
func (l *TelegramListener) annotate(ctx context.Context, msgID int64, original, outcome, actor string) {
	if msgID == 0 {
		return
	}
	// the limit counts visible text, so cut before escaping to keep entities whole
	tail := "\n\n" + outcome + " (" + actor + ")"
	original, _ = notify.Fit(original, "", "", notify.TelegramLimit-utf8.RuneCountInString(tail))
	text := fmt.Sprintf("%s\n\n<b>%s</b> (%s)", html.EscapeString(original), html.EscapeString(outcome), html.EscapeString(actor))
	if err := l.bot.EditMessageText(ctx, l.chatID, msgID, text); err != nil {
		l.log.Warn("editMessageText", zap.Error(err))
	}
}

func (l *TelegramListener) logOutcome(fp, action, actor string, err error) {
	var pe *PostError
	switch {
	case err == nil:
	case domain.IsStateConflict(err):
	case errors.As(err, &pe):
		l.log.Warn("post failed", zap.String("fingerprint", fp), zap.String("actor", actor), zap.Error(err))
	default:
		l.log.Error("action failed", zap.String("fingerprint", fp), zap.String("action", action), zap.Error(err))
	}
}

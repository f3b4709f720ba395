package contact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/resumemate/backend/internal/metrics"
	"github.com/resumemate/backend/internal/models"
	"github.com/resumemate/backend/pkg/logger"
)

// Sink appends contact submissions. Implementations never update or
// delete earlier entries.
type Sink interface {
	SaveContact(ctx context.Context, sub *models.ContactSubmission) error
}

type Manager struct {
	sink Sink
	now  func() time.Time
}

func NewManager(sink Sink) *Manager {
	return &Manager{sink: sink, now: time.Now}
}

type Result struct {
	Accepted bool
	Message  string
	Contact  models.ContactInfo
	Problems []Problem
	ID       int64
}

// Submit parses text, validates it and stores it. Invalid input returns a
// correction message and a nil error; only sink failures return an error.
func (m *Manager) Submit(ctx context.Context, sessionID, originalQuestion, text string, lang models.Language) (Result, error) {
	info := Parse(text)
	problems := Check(info)
	if len(problems) > 0 {
		metrics.ContactSubmissions.WithLabelValues("false").Inc()
		return Result{
			Contact:  info,
			Problems: problems,
			Message:  correctionMessage(lang, problems),
		}, nil
	}

	sub := &models.ContactSubmission{
		SessionID:        sessionID,
		OriginalQuestion: originalQuestion,
		Contact:          info,
		CreatedAt:        m.now(),
	}
	if err := m.sink.SaveContact(ctx, sub); err != nil {
		logger.Error("Failed to save contact",
			zap.String("session_id", sessionID),
			zap.String("stage", "contact_sink"),
			zap.Error(err),
		)
		return Result{Contact: info, Message: saveFailedMessage(lang)}, fmt.Errorf("failed to save contact: %w", err)
	}

	metrics.ContactSubmissions.WithLabelValues("true").Inc()
	logger.Info("Contact saved", zap.Int64("id", sub.ID), zap.String("session_id", sessionID))
	return Result{
		Accepted: true,
		Contact:  info,
		ID:       sub.ID,
		Message:  acknowledgement(lang, info),
	}, nil
}

func acknowledgement(lang models.Language, c models.ContactInfo) string {
	en := lang == models.LanguageEN
	var items []string
	add := func(zh, enLabel, v string) {
		if v == "" {
			return
		}
		label := zh
		if en {
			label = enLabel
		}
		items = append(items, fmt.Sprintf("- %s: %s", label, v))
	}
	add("稱呼", "Name", c.Name)
	add("Email", "Email", c.Email)
	add("電話", "Phone", c.Phone)
	add("Line ID", "LINE", c.LineID)
	if c.Telegram != "" {
		add("Telegram", "Telegram", "@"+c.Telegram)
	}

	if en {
		return "Thanks, I have your contact details:\n" + strings.Join(items, "\n") +
			"\n\nI've noted your question and will get back to you soon. Anything else about my background?"
	}
	return "已收到您的聯絡方式：\n" + strings.Join(items, "\n") +
		"\n\n我已記下您的問題，會盡快與您聯繫。還有其他關於履歷的問題嗎？"
}

func correctionMessage(lang models.Language, problems []Problem) string {
	en := lang == models.LanguageEN
	lines := make([]string, 0, len(problems))
	for _, p := range problems {
		if en {
			lines = append(lines, "- "+p.String())
		} else {
			lines = append(lines, "- "+problemZh(p))
		}
	}
	if en {
		return "Some contact details look off:\n" + strings.Join(lines, "\n") +
			"\n\nPlease try again, for example: \"My name is John, email john@example.com\"."
	}
	return "聯絡資訊格式有誤：\n" + strings.Join(lines, "\n") +
		"\n\n請重新提供，例如：「我叫張三，Email 是 example@domain.com」或「電話 0912-345-678」。"
}

func problemZh(p Problem) string {
	switch p.Tag {
	case "channel":
		return "除了稱呼外，請至少提供一種聯絡方式（Email/電話/Line/Telegram）"
	case "email":
		return "Email 格式不正確：" + p.Value
	case "twmobile":
		return "電話格式不正確：" + p.Value
	case "max":
		return fmt.Sprintf("%s 過長（上限 %s 字）", p.Field, p.Param)
	default:
		return p.String()
	}
}

func saveFailedMessage(lang models.Language) string {
	if lang == models.LanguageEN {
		return "Sorry, I couldn't save your contact details. Please try again later."
	}
	return "抱歉，儲存聯絡資訊時發生問題，請稍後再試。"
}

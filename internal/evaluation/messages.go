package evaluation

import (
	"strings"

	"github.com/resumemate/backend/internal/models"
)

func EscalationMessage(lang models.Language) string {
	if lang == models.LanguageEN {
		return "I can't guarantee an accurate answer from the information I have right now. " +
			"May I note your question so I can reply to you personally? " +
			"Please leave your name and a way to reach you (email, phone or LINE)."
	}
	return "目前能查到的資料還無法確保答案正確。可以先記下您的問題，由我本人親自回覆嗎？" +
		"麻煩留下聯絡方式（稱呼/Email/電話/Line）。"
}

func OutOfScopeMessage(lang models.Language) string {
	if lang == models.LanguageEN {
		return "That question is outside what my resume covers, so I can't answer it here. " +
			"If you'd like a personal reply, please leave your name and a way to reach you (email, phone or LINE)."
	}
	return "這個問題不在我的履歷範圍內，這裡沒辦法回答。若希望由我本人回覆，" +
		"歡迎留下聯絡方式（稱呼/Email/電話/Line）。"
}

// TimeoutMessage is returned when a turn exceeds its deadline.
func TimeoutMessage(lang models.Language) string {
	if lang == models.LanguageEN {
		return "Sorry, that took longer than expected. Please try asking again."
	}
	return "抱歉，這次處理時間過長，請稍後再問一次。"
}

// RetryLaterMessage is returned when the service is at capacity.
func RetryLaterMessage(lang models.Language) string {
	if lang == models.LanguageEN {
		return "I'm answering a lot of questions right now. Please try again in a moment."
	}
	return "目前提問的人比較多，請稍候再試一次。"
}

// MissingFields lists what a follow-up question should pin down for a
// category.
func MissingFields(category models.Category) []string {
	switch category {
	case models.CategorySkill:
		return []string{"technology", "usage_context"}
	case models.CategoryExperience:
		return []string{"company", "time_period", "project"}
	case models.CategoryContact:
		return []string{"preferred_channel"}
	default:
		return []string{"topic"}
	}
}

var fieldLabels = map[string][2]string{
	"technology":        {"哪一項技術或工具", "which technology or tool"},
	"usage_context":     {"使用的情境", "the context you have in mind"},
	"company":           {"哪一間公司", "which company"},
	"time_period":       {"哪個時期", "which period"},
	"project":           {"哪個專案", "which project"},
	"preferred_channel": {"希望的聯絡方式", "how you'd like to get in touch"},
	"topic":             {"想了解的主題", "the topic you're interested in"},
}

// ClarificationMessage asks the user for the given missing fields.
func ClarificationMessage(lang models.Language, fields []string) string {
	idx := 0
	if lang == models.LanguageEN {
		idx = 1
	}
	labels := make([]string, 0, len(fields))
	for _, f := range fields {
		if l, ok := fieldLabels[f]; ok {
			labels = append(labels, l[idx])
		}
	}

	if lang == models.LanguageEN {
		if len(labels) == 0 {
			return "Could you be a bit more specific about what you'd like to know?"
		}
		return "Could you be a bit more specific? For example: " + strings.Join(labels, ", ") + "."
	}
	if len(labels) == 0 {
		return "可以再說得具體一點嗎？"
	}
	return "可以再說得具體一點嗎？例如：" + strings.Join(labels, "、") + "。"
}

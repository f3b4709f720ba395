// Package contact extracts and validates the contact details a user leaves
// after a question was escalated.
package contact

import (
	"regexp"
	"strings"

	"github.com/resumemate/backend/internal/models"
)

const maxNameRunes = 30

var (
	hanName   = `(\p{Han}{1,10})`
	latinName = `([A-Za-z][A-Za-z.'-]*(?: [A-Za-z][A-Za-z.'-]*)?)`

	// Tried in order; the first pattern with a plausible capture wins.
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`我叫\s*(?:` + hanName + `|` + latinName + `)`),
		regexp.MustCompile(`我的名字是\s*(?:` + hanName + `|` + latinName + `)`),
		regexp.MustCompile(`姓名\s*[:：]?\s*(?:` + hanName + `|` + latinName + `)`),
		regexp.MustCompile(`名字\s*[:：]?\s*(?:` + hanName + `|` + latinName + `)`),
		regexp.MustCompile(`可以叫我\s*(?:` + hanName + `|` + latinName + `)`),
		regexp.MustCompile(`(?i:\bmy name is)\s+` + latinName),
		regexp.MustCompile(`(?i:\bcall me)\s+` + latinName),
		regexp.MustCompile(`(?i:\bname)\s*[:：]\s*` + latinName),
		// Capitalized so that "I'm interested in..." is not read as a name.
		regexp.MustCompile(`(?i:\bi['’]?m)\s+([A-Z][A-Za-z'-]*(?: [A-Z][A-Za-z'-]*)?)`),
	}

	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+886[- ]?|0)9\d{2}[- ]?\d{3}[- ]?\d{3}`)
	linePattern  = regexp.MustCompile(`(?i)\bline(?:\s*id)?\s*(?:[:：]|是|is)?\s*([A-Za-z0-9._-]+)`)

	telegramKeyword = regexp.MustCompile(`(?i)\b(?:telegram|tg)\s*(?:[:：]|是|is)?\s*@?([A-Za-z0-9_]+)`)
	// A bare @handle must not be the domain half of an email address.
	telegramHandle = regexp.MustCompile(`(?:^|[^A-Za-z0-9._%+-])@([A-Za-z0-9_]+)`)
)

// Parse runs each field matcher independently over text.
func Parse(text string) models.ContactInfo {
	return models.ContactInfo{
		Name:     parseName(text),
		Email:    emailPattern.FindString(text),
		Phone:    parsePhone(text),
		LineID:   parseLine(text),
		Telegram: parseTelegram(text),
	}
}

// IsContactInput reports whether text carries any contact detail.
func IsContactInput(text string) bool {
	return !Parse(text).IsEmpty()
}

func parseName(text string) string {
	for _, p := range namePatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		for _, group := range m[1:] {
			name := strings.TrimSpace(group)
			if name != "" && len([]rune(name)) <= maxNameRunes {
				return name
			}
		}
	}
	return ""
}

// parsePhone normalizes a Taiwan mobile number to 09xxxxxxxx.
func parsePhone(text string) string {
	raw := phonePattern.FindString(text)
	if raw == "" {
		return ""
	}
	phone := strings.NewReplacer("-", "", " ", "").Replace(raw)
	if strings.HasPrefix(phone, "+886") {
		phone = "0" + phone[len("+886"):]
	}
	return phone
}

func parseLine(text string) string {
	m := linePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	id := m[1]
	if strings.EqualFold(id, "id") || phonePattern.MatchString(id) {
		return ""
	}
	return id
}

func parseTelegram(text string) string {
	if m := telegramKeyword.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := telegramHandle.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

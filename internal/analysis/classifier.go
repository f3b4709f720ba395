// Package analysis classifies questions and prepares a drafted answer
// with its supporting passages and confidence.
package analysis

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/resumemate/backend/internal/models"
)

type keywordSet struct {
	category models.Category
	ascii    *regexp.Regexp
	cjk      []string
}

func (k keywordSet) match(lower string) bool {
	if k.ascii != nil && k.ascii.MatchString(lower) {
		return true
	}
	for _, kw := range k.cjk {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func words(ws ...string) *regexp.Regexp {
	quoted := make([]string, len(ws))
	for i, w := range ws {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// Checked in priority order; the first match wins.
var keywordSets = []keywordSet{
	{
		category: models.CategorySkill,
		ascii: words("skill", "skills", "skillset", "tech stack", "technology", "technologies",
			"expertise", "proficient", "programming", "framework", "frameworks", "tools",
			"certification", "certifications", "good at", "languages"),
		cjk: []string{"技能", "技術", "專長", "擅長", "程式語言", "框架", "工具", "證照", "會什麼", "能力"},
	},
	{
		category: models.CategoryExperience,
		ascii: words("experience", "experiences", "work", "worked", "working", "job", "jobs",
			"project", "projects", "role", "company", "companies", "career", "education",
			"degree", "background", "yourself", "about you", "who are you", "resume"),
		cjk: []string{"經驗", "經歷", "工作", "專案", "項目", "職位", "公司", "負責", "學歷", "教育",
			"背景", "自我介紹", "介紹一下", "你是誰", "履歷"},
	},
	{
		category: models.CategoryContact,
		ascii: words("contact", "email", "e-mail", "phone", "reach you", "get in touch",
			"linkedin", "hire you"),
		cjk: []string{"聯絡", "聯繫", "連絡", "電子郵件", "信箱", "電話", "怎麼找到你", "如何找到你"},
	},
	{
		category: models.CategoryFact,
		ascii: words("weather", "news", "stock", "stocks", "exchange rate", "capital of",
			"president", "recipe", "movie", "movies", "what time", "lottery"),
		cjk: []string{"天氣", "新聞", "股價", "股票", "匯率", "首都", "總統", "食譜", "電影", "幾點", "今天幾號", "彩券"},
	},
}

var (
	asciiInterrogatives = regexp.MustCompile(`(?i)\b(?:what|who|where|when|how|why|which|whose|whom)\b`)
	cjkInterrogatives   = []string{
		"什麼時候", "為什麼", "什麼", "甚麼", "哪裡", "哪兒", "何時", "如何", "怎麼", "怎樣", "為何", "誰", "嗎", "呢",
	}
)

// Classify assigns a category by keyword and derives the routing
// decision. Contact questions are answered by a fixed lookup and fact
// questions fall outside the knowledge base. A question with nothing left
// once interrogatives and punctuation are removed needs clarification.
func Classify(text string) (models.Category, models.Decision) {
	lower := strings.ToLower(strings.TrimSpace(text))

	category := models.CategoryOther
	for _, set := range keywordSets {
		if set.match(lower) {
			category = set.category
			break
		}
	}

	switch category {
	case models.CategoryContact:
		return category, models.DecisionLookup
	case models.CategoryFact:
		return category, models.DecisionOutOfScope
	case models.CategoryOther:
		if isVague(lower) {
			return category, models.DecisionClarify
		}
	}
	return category, models.DecisionRetrieve
}

// GenerateQuery builds the search query for a question. Fact questions
// lose their interrogatives; everything else is only trimmed.
func GenerateQuery(text string, category models.Category) string {
	trimmed := strings.TrimSpace(text)
	if category != models.CategoryFact {
		return trimmed
	}
	return collapseSpaces(stripPunctuation(stripInterrogatives(trimmed)))
}

func stripInterrogatives(text string) string {
	out := asciiInterrogatives.ReplaceAllString(text, " ")
	for _, w := range cjkInterrogatives {
		out = strings.ReplaceAll(out, w, " ")
	}
	return out
}

func stripPunctuation(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, text)
}

func collapseSpaces(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func isVague(lower string) bool {
	content := strings.Join(strings.Fields(stripPunctuation(stripInterrogatives(lower))), "")
	return len([]rune(content)) < 2
}

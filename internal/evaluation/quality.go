package evaluation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const DefaultMaxDraftRunes = 600

// objectivePhrases read as a third party describing the owner's records
// rather than the owner answering in the first person.
var objectivePhrases = []string{
	"根據履歷",
	"履歷顯示",
	"資料顯示",
	"文件記錄",
	"資料庫中",
	"根據資料",
	"檔案顯示",
	"記錄顯示",
	"數據表明",
	"according to the resume",
	"the resume shows",
	"the records show",
	"according to the data",
}

// CheckDraft returns one suggestion per quality problem found in draft.
// An empty slice means the draft can be delivered.
func CheckDraft(draft string, maxRunes int) []string {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxDraftRunes
	}
	trimmed := strings.TrimSpace(draft)
	if trimmed == "" {
		return []string{"draft is empty: write a first-person answer from the retrieved passages"}
	}

	var suggestions []string
	if n := utf8.RuneCountInString(trimmed); n > maxRunes {
		suggestions = append(suggestions,
			fmt.Sprintf("draft is too long (%d characters): shorten it to at most %d", n, maxRunes))
	}

	lower := strings.ToLower(trimmed)
	for _, p := range objectivePhrases {
		if strings.Contains(lower, p) {
			suggestions = append(suggestions,
				fmt.Sprintf("remove the objective phrasing %q and answer in the first person", p))
		}
	}
	return suggestions
}

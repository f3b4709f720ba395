// Package models holds the data passed between pipeline stages of one turn.
package models

import (
	"strings"
	"time"
)

type Category string

const (
	CategorySkill      Category = "skill"
	CategoryExperience Category = "experience"
	CategoryContact    Category = "contact"
	CategoryFact       Category = "fact"
	CategoryOther      Category = "other"
)

// ParseCategory maps any collaborator spelling onto a known category,
// falling back to CategoryOther.
func ParseCategory(raw string) Category {
	switch canonical(raw) {
	case "skill", "skills", "technical_skill", "tech":
		return CategorySkill
	case "experience", "experiences", "work", "work_experience", "project", "projects":
		return CategoryExperience
	case "contact", "contact_info", "contacts":
		return CategoryContact
	case "fact", "facts", "general", "trivia":
		return CategoryFact
	default:
		return CategoryOther
	}
}

type Decision string

const (
	DecisionRetrieve   Decision = "retrieve"
	DecisionLookup     Decision = "lookup"
	DecisionOutOfScope Decision = "out_of_scope"
	DecisionClarify    Decision = "clarify"
)

// ParseDecision falls back to DecisionOutOfScope for unknown values.
func ParseDecision(raw string) Decision {
	switch canonical(raw) {
	case "retrieve", "search", "rag", "direct_answer", "answer":
		return DecisionRetrieve
	case "lookup", "contact_lookup", "tool", "use_tool":
		return DecisionLookup
	case "clarify", "ask_clarify", "needs_clarification", "clarification":
		return DecisionClarify
	default:
		return DecisionOutOfScope
	}
}

type Status string

const (
	StatusOK                 Status = "ok"
	StatusNeedsEdit          Status = "needs_edit"
	StatusNeedsClarification Status = "needs_clarification"
	StatusOutOfScope         Status = "out_of_scope"
	StatusEscalate           Status = "escalate_to_human"
)

// ParseStatus falls back to StatusEscalate so an unrecognized verdict is
// never delivered as an answer.
func ParseStatus(raw string) Status {
	switch canonical(raw) {
	case "ok", "pass", "approved", "approve":
		return StatusOK
	case "needs_edit", "edit", "revise", "needs_revision":
		return StatusNeedsEdit
	case "needs_clarification", "clarify", "ask_clarify", "clarification":
		return StatusNeedsClarification
	case "out_of_scope", "oos":
		return StatusOutOfScope
	default:
		return StatusEscalate
	}
}

// Terminal reports whether the status ends the turn.
func (s Status) Terminal() bool {
	return s != StatusNeedsEdit
}

// severity orders statuses from most to least deliverable.
func (s Status) severity() int {
	switch s {
	case StatusOK:
		return 0
	case StatusNeedsEdit:
		return 1
	case StatusNeedsClarification:
		return 2
	case StatusOutOfScope:
		return 3
	default:
		return 4
	}
}

// Stricter returns whichever status is less deliverable.
func Stricter(a, b Status) Status {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

type Action string

const (
	ActionNone               Action = ""
	ActionRequestMoreInfo    Action = "request_more_info"
	ActionRequestContactForm Action = "request_contact_form"
	ActionRetryLater         Action = "retry_later"
)

// ActionFor derives the client hint from a final status.
func ActionFor(s Status) Action {
	switch s {
	case StatusNeedsClarification:
		return ActionRequestMoreInfo
	case StatusOutOfScope, StatusEscalate:
		return ActionRequestContactForm
	default:
		return ActionNone
	}
}

func canonical(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	return s
}

type Language string

const (
	LanguageZhTW Language = "zh-TW"
	LanguageEN   Language = "en"
)

func ParseLanguage(raw string) Language {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "en") {
		return LanguageEN
	}
	return LanguageZhTW
}

// Question is immutable once built by NewQuestion.
type Question struct {
	Text      string
	Language  Language
	Context   []string
	SessionID string
	CreatedAt time.Time
}

// NewQuestion trims the text and keeps only the most recent maxContext
// prior turns.
func NewQuestion(text string, language string, context []string, sessionID string, maxContext int) Question {
	var trimmed []string
	for _, c := range context {
		if c = strings.TrimSpace(c); c != "" {
			trimmed = append(trimmed, c)
		}
	}
	if maxContext >= 0 && len(trimmed) > maxContext {
		trimmed = trimmed[len(trimmed)-maxContext:]
	}
	return Question{
		Text:      strings.TrimSpace(text),
		Language:  ParseLanguage(language),
		Context:   trimmed,
		SessionID: sessionID,
		CreatedAt: time.Now(),
	}
}

type SearchResult struct {
	DocID    string         `json:"doc_id"`
	Score    float64        `json:"score"`
	Excerpt  string         `json:"excerpt"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

const (
	MetaSources            = "sources"
	MetaSource             = "source"
	MetaRawOutput          = "raw_output"
	MetaOriginalQuestion   = "original_question"
	MetaAnalysisConfidence = "analysis_confidence"
	MetaMissingFields      = "missing_fields"
	MetaReason             = "reason"
	MetaLatencyMS          = "latency_ms"
	MetaStatus             = "status"
	MetaCategory           = "category"
	MetaTurnID             = "turn_id"
	MetaQuestionHash       = "question_hash"
	MetaRevisions          = "revisions"
	MetaCached             = "cached"
)

type AnalysisResult struct {
	Query         string
	Category      Category
	Decision      Decision
	Confidence    float64
	Retrievals    []SearchResult
	DraftAnswer   string
	Metadata      map[string]any
	ContactLookup bool
	// Degraded is set when a collaborator failed during analysis.
	Degraded bool
	Revision int
}

// Sources returns the source ids recorded in metadata.
func (a AnalysisResult) Sources() []string {
	return StringList(a.Metadata[MetaSources])
}

type EvaluationResult struct {
	FinalAnswer string
	Sources     []string
	Confidence  float64
	Status      Status
	Suggestions []string
	Metadata    map[string]any
}

type SystemResponse struct {
	Answer     string         `json:"answer"`
	Sources    []string       `json:"sources"`
	Confidence float64        `json:"confidence"`
	Action     Action         `json:"action,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Status reads the final status stored in metadata.
func (r *SystemResponse) Status() Status {
	s, _ := r.Metadata[MetaStatus].(string)
	return ParseStatus(s)
}

// StringList accepts the shapes a metadata list can take after a JSON
// round trip.
func StringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// CloneMetadata copies the top level of a metadata map.
func CloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+4)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

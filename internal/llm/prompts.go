package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/resumemate/backend/internal/models"
)

const draftSystemPrompt = `You answer questions about %[1]s's resume as %[1]s, in the first person.

Rules:
- Use only the provided passages. Never invent facts.
- Do not describe the resume objectively ("according to the resume", "the data shows").
- Cite the ids of the passages you used in "sources".
- Reply in %[2]s.
- %[3]s

Return a single JSON object with exactly these fields:
{"draft_answer": string, "sources": [string], "confidence": number between 0 and 1,
 "question_type": "skill"|"experience"|"contact"|"fact"|"other",
 "decision": "retrieve"|"out_of_scope"|"clarify", "metadata": object}`

const reviewSystemPrompt = `You review a drafted answer about %[1]s's resume before it is shown to a visitor.

Check that the answer is supported by the passages, cites its sources, speaks in the first person
and is concise. Polish the wording without adding facts.

Set "status" to one of: "ok", "needs_edit", "needs_clarification", "out_of_scope", "escalate_to_human".
When status is "needs_edit", list concrete fixes in metadata.suggestions.

Return a single JSON object with exactly these fields:
{"final_answer": string, "sources": [string], "confidence": number between 0 and 1,
 "status": string, "metadata": object}`

func lengthInstruction(mode string) string {
	switch strings.ToLower(mode) {
	case "brief":
		return "Keep it to one or two short sentences."
	case "detailed":
		return "Give a detailed answer of a few short paragraphs with concrete examples."
	default:
		return "Keep it to two to four sentences."
	}
}

func languageName(lang models.Language) string {
	if lang == models.LanguageEN {
		return "English"
	}
	return "Traditional Chinese"
}

func draftPrompts(req DraftRequest, responseLength string) (string, string) {
	system := fmt.Sprintf(draftSystemPrompt, ownerOrDefault(req.OwnerName), languageName(req.Language), lengthInstruction(responseLength))

	var b strings.Builder
	fmt.Fprintf(&b, "Question type: %s\n", req.Category)
	if len(req.Context) > 0 {
		b.WriteString("Earlier turns:\n")
		for _, c := range req.Context {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	b.WriteString("Passages:\n")
	b.WriteString(passagesJSON(req.Passages))
	if req.PreviousDraft != "" {
		fmt.Fprintf(&b, "\nPrevious draft:\n%s\n", req.PreviousDraft)
		b.WriteString("Revise it applying these fixes:\n")
		for _, s := range req.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	fmt.Fprintf(&b, "\nQuestion: %s", req.Question)
	return system, b.String()
}

func reviewPrompts(req ReviewRequest) (string, string) {
	system := fmt.Sprintf(reviewSystemPrompt, ownerOrDefault(req.OwnerName))

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", req.Question)
	fmt.Fprintf(&b, "Question type: %s\n", req.Category)
	fmt.Fprintf(&b, "Analysis confidence: %.2f\n", req.AnalysisConfidence)
	fmt.Fprintf(&b, "Cited sources: %s\n", strings.Join(req.Sources, ", "))
	b.WriteString("Passages:\n")
	b.WriteString(passagesJSON(req.Passages))
	fmt.Fprintf(&b, "\nDraft answer:\n%s", req.DraftAnswer)
	return system, b.String()
}

func passagesJSON(passages []Passage) string {
	if len(passages) == 0 {
		return "[]"
	}
	data, err := json.MarshalIndent(passages, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

func ownerOrDefault(name string) string {
	if name == "" {
		return "the resume owner"
	}
	return name
}

package rag

import "strings"

// AnswerMarker ends every rendered prompt. Generated text up to and including
// the last marker is treated as an echo and discarded.
const AnswerMarker = "Answer:"

// Prompt is the structured input to generation.
type Prompt struct {
	Identity Identity
	Passages []Passage
	History  []Turn
	Question string
}

// Assembler renders a Prompt into model input. Rendering is pure: the same
// prompt always yields the same string.
type Assembler struct{}

func (Assembler) Render(p Prompt) string {
	var b strings.Builder

	b.WriteString("You are ")
	b.WriteString(orDefault(p.Identity.Name, "Assistant"))
	b.WriteString(", a helpful AI assistant")
	if p.Identity.Origin != "" {
		b.WriteString(" for ")
		b.WriteString(p.Identity.Origin)
	}
	b.WriteString(".\n")
	b.WriteString("Use the following context to answer the user's question. ")
	b.WriteString("If you don't know the answer based on the context, say so politely.\n\n")

	b.WriteString("Context: ")
	for i, passage := range p.Passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(passage.Text))
	}
	b.WriteString("\n\n")

	b.WriteString("Chat History: ")
	for i, turn := range p.History {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("User: ")
		b.WriteString(turn.Question)
		b.WriteString("\nAssistant: ")
		b.WriteString(turn.Answer)
	}
	b.WriteString("\n\n")

	b.WriteString("User: ")
	b.WriteString(p.Question)
	b.WriteString("\n")
	b.WriteString(AnswerMarker)

	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

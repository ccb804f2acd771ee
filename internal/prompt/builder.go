// Package prompt renders the layered context into the single text prompt
// sent to the model. Block order is fixed; absent layers are omitted
// entirely rather than rendered empty.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cleverschool/edubot/internal/contexts"
)

// DefaultPersonality is used when no global context profile exists yet.
const DefaultPersonality = "És um assistente educativo amigável e paciente que ajuda alunos a aprender."

const (
	historyMaxTurns   = 14
	historyMaxTurnLen = 500
	instructionsBlock = "INSTRUÇÕES:\n" +
		"1. Responde sempre em português (pt-PT)\n" +
		"2. Adapta a linguagem ao nível do aluno\n" +
		"3. Sê encorajador e positivo\n" +
		"4. Usa exemplos práticos quando possível\n" +
		"5. Se não souberes algo, admite e sugere recursos\n" +
		"6. Mantém as respostas concisas mas informativas\n" +
		"7. Usa emojis apropriados para tornar a conversa mais amigável\n\n"
	additionalRulesBlock = "REGRAS ADICIONAIS:\n" +
		"8. Não incluas links externos (YouTube, sites) por omissão\n" +
		"9. Nunca termines com uma linha \"Link:\"\n" +
		"10. Se mencionares recursos, descreve-os sem URLs\n" +
		"11. Evita recomendar vídeos em inglês ou espanhol salvo pedido explícito\n\n"
)

var historyURLRe = regexp.MustCompile(`https?://[^\s<>"]+`)

// Turn is one prior exchange half for the history block.
type Turn struct {
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}

type Builder struct {
	language string
}

func NewBuilder(language string) *Builder {
	if language == "" {
		language = "pt-PT"
	}
	return &Builder{language: language}
}

// Build renders the full prompt for one message.
func (b *Builder) Build(message string, res contexts.Resolved, history []Turn) string {
	var p strings.Builder

	personality := res.Global
	if personality == "" {
		personality = DefaultPersonality
	}
	fmt.Fprintf(&p, "PERSONALIDADE BASE:\n%s\n\n", personality)
	fmt.Fprintf(&p, "IDIOMA: %s\n\n", b.language)

	if res.SchoolName != "" || res.School != "" {
		p.WriteString("CONTEXTO ESCOLAR:\n")
		if res.SchoolName != "" {
			fmt.Fprintf(&p, "Escola: %s\n", res.SchoolName)
		}
		if res.School != "" {
			p.WriteString(res.School + "\n")
		}
		p.WriteString("\n")
	}

	if res.ClassName != "" || res.Class != "" {
		p.WriteString("CONTEXTO DA TURMA:\n")
		if res.ClassName != "" {
			fmt.Fprintf(&p, "Turma: %s\n", res.ClassName)
		}
		if res.Class != "" {
			p.WriteString(res.Class + "\n")
		}
		p.WriteString("\n")
	}

	if res.StudentName != "" || res.Student != "" {
		p.WriteString("CONTEXTO DO ALUNO:\n")
		if res.StudentName != "" {
			fmt.Fprintf(&p, "Aluno: %s\n", res.StudentName)
		}
		if res.Student != "" {
			p.WriteString(res.Student + "\n")
		}
		p.WriteString("\n")
	}

	if res.Educational != "" {
		p.WriteString("CONTEXTO EDUCACIONAL:\n")
		fmt.Fprintf(&p, "Materiais Disponíveis:\n%s\n\n", res.Educational)
	}

	p.WriteString(instructionsBlock)
	p.WriteString(additionalRulesBlock)

	if len(history) > 0 {
		if len(history) > historyMaxTurns {
			history = history[len(history)-historyMaxTurns:]
		}
		fmt.Fprintf(&p, "HISTÓRICO DE CONVERSA (últimas %d):\n", len(history))
		for _, t := range history {
			who := "ALUNO"
			if t.Role == "assistant" {
				who = "AGENTE"
			}
			ts := ""
			if !t.Timestamp.IsZero() {
				ts = " [" + t.Timestamp.Format(time.RFC3339) + "]"
			}
			fmt.Fprintf(&p, "- %s%s: %s\n", who, ts, truncateForHistory(t.Content))
		}
		p.WriteString("\n")
	}

	fmt.Fprintf(&p, "MENSAGEM DO ALUNO:\n%s\n\n", message)
	p.WriteString("RESPOSTA:")

	return p.String()
}

// truncateForHistory masks URLs and caps the turn length so a single long
// message cannot dominate the prompt.
func truncateForHistory(text string) string {
	cleaned := historyURLRe.ReplaceAllString(text, "[URL]")
	if len(cleaned) <= historyMaxTurnLen {
		return cleaned
	}
	cut := cleaned[:historyMaxTurnLen]
	// do not split a multi-byte rune at the boundary
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "..."
}

package gemini

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed persona.txt
var personaRaw string

// Persona returns the system prompt defining the agent's voice.
func Persona() string {
	return strings.TrimSpace(personaRaw)
}

// historyWindow is how many recent turns make it into the prompt.
const historyWindow = 4

// HistoryTurn is one prior exchange as rendered into the prompt.
type HistoryTurn struct {
	Role    string
	Content string
}

// BuildPrompt assembles the single prompt string sent to the generator:
// the personalized context digest, up to the last four visible turns, then
// the new user message.
func BuildPrompt(personalized string, history []HistoryTurn, userMessage string) string {
	var b strings.Builder

	if personalized != "" {
		fmt.Fprintf(&b, "CONTEXTO PERSONALIZADO: %s\n\n", personalized)
	}

	if len(history) > 0 {
		b.WriteString("Contexto reciente:\n")
		start := 0
		if len(history) > historyWindow {
			start = len(history) - historyWindow
		}
		for _, turn := range history[start:] {
			label := "Agente"
			if turn.Role == "user" {
				label = "Usuario"
			}
			fmt.Fprintf(&b, "%s: %s\n", label, turn.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Usuario: %s\nAgente:", userMessage)
	return b.String()
}

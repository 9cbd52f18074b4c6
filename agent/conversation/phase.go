package conversation

import (
	"slices"
	"strings"
)

// Keyword sets scored by the phase classifier. Matching is plain substring
// containment over the lowercased recent user text, not word-boundary aware.
var phaseKeywords = map[Phase][]string{
	PhaseIntroduction:      {"hola", "buenos días", "me llamo", "soy", "empresa"},
	PhaseDiscovery:         {"necesito", "problema", "buscamos", "queremos", "ayuda"},
	PhaseQualification:     {"presupuesto", "timeline", "cuándo", "inversión", "costo"},
	PhasePresentation:      {"cómo funciona", "características", "beneficios", "demo"},
	PhaseObjectionHandling: {"pero", "sin embargo", "preocupa", "duda", "no estoy seguro"},
	PhaseClosing:           {"empezar", "contratar", "siguiente paso", "propuesta", "reunión"},
	PhaseFollowUp:          {"después", "próxima", "contactar", "llamar", "email"},
}

// classifyPhase scores text against every phase's keyword set and returns the
// phase with the highest count. Ties go to the phase earliest in enumeration
// order. A zero score across the board keeps the current phase.
func classifyPhase(text string, current Phase) Phase {
	best := current
	bestScore := 0
	for _, phase := range phaseOrder {
		score := 0
		for _, keyword := range phaseKeywords[phase] {
			if strings.Contains(text, keyword) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = phase
		}
	}
	if bestScore == 0 {
		return current
	}
	return best
}

// recentUserText joins the content of up to the last n user-role turns,
// oldest first, lowercased. Assistant and system turns are never scored.
func recentUserText(messages []Turn, n int) string {
	var parts []string
	for i := len(messages) - 1; i >= 0 && len(parts) < n; i-- {
		if messages[i].Role == RoleUser {
			parts = append(parts, messages[i].Content)
		}
	}
	slices.Reverse(parts)
	return strings.ToLower(strings.Join(parts, " "))
}

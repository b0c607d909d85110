package orchestrator

import (
	"regexp"
	"strings"
)

// Intent classifies what kind of answer a message expects.
type Intent string

const (
	IntentFactual        Intent = "factual"
	IntentConversational Intent = "conversational"
	IntentTechnical      Intent = "technical"
	IntentOpinion        Intent = "opinion"
	IntentCalculation    Intent = "calculation"
	IntentUnknown        Intent = "unknown"
)

// intentPatterns score a message per class; the class with the most
// pattern hits wins. Patterns cover Portuguese and English phrasing.
var intentPatterns = map[Intent][]*regexp.Regexp{
	IntentFactual: compileAll(
		`(?i)\b(what|who|when|where|which)\b.*\?`,
		`(?i)\b(o que|quem|quando|onde|qual|quais)\b`,
		`(?i)\b(capital|population|president|history|año|ano|year)\b`,
		`(?i)\b(define|definição|definition|meaning|significado)\b`,
	),
	IntentConversational: compileAll(
		`(?i)^\s*(hi|hello|hey|olá|oi|bom dia|boa tarde|boa noite)\b`,
		`(?i)\b(thanks|thank you|obrigad[oa]|valeu)\b`,
		`(?i)\b(how are you|tudo bem|como vai)\b`,
	),
	IntentTechnical: compileAll(
		`(?i)\b(code|código|codigo|function|função|funcao|bug|error|erro|exception|stack trace)\b`,
		`(?i)\b(api|sql|http|json|docker|kubernetes|compil|debug)\b`,
		`(?i)\b(install|instalar|configure|configurar|deploy)\b`,
		"```",
	),
	IntentOpinion: compileAll(
		`(?i)\b(what do you think|na sua opinião|you prefer|melhor ou pior|better or worse)\b`,
		`(?i)\b(opinion|opinião|opiniao|recommend|recomenda|suggest|sugere)\b`,
		`(?i)\b(should i|devo|vale a pena|worth it)\b`,
	),
	IntentCalculation: compileAll(
		`\d+\s*[-+*/^%]\s*\d+`,
		`(?i)\b(calculate|calcule|calcular|convert|converta|quanto é|how much is)\b`,
		`(?i)\b(sum|soma|average|média|media|percent|porcento|percentage)\b`,
	),
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// ClassifyIntent scores text against every class and returns the
// highest-scoring one, or IntentUnknown when nothing matches.
func ClassifyIntent(text string) Intent {
	text = strings.TrimSpace(text)
	if text == "" {
		return IntentUnknown
	}

	best := IntentUnknown
	bestScore := 0
	// Deterministic iteration so ties resolve stably.
	for _, intent := range []Intent{IntentFactual, IntentConversational, IntentTechnical, IntentOpinion, IntentCalculation} {
		score := 0
		for _, re := range intentPatterns[intent] {
			if re.MatchString(text) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = intent
		}
	}
	return best
}

// NeedsResearch reports whether the intent benefits from fresh web
// sources rather than the model alone.
func (i Intent) NeedsResearch() bool {
	return i == IntentFactual || i == IntentTechnical
}

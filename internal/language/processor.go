// Package language implements the rule-based processor behind the
// conversation module: intent detection, entity extraction, and response
// generation, French-first with English keyword aliases.
package language

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/sajari/fuzzy"

	"github.com/ada-ai/ada/internal/conversation"
)

// Intent labels returned by DetectIntent.
const (
	IntentGreeting = "greeting"
	IntentFarewell = "farewell"
	IntentQuestion = "question"
	IntentCommand  = "command"
	IntentUnknown  = "unknown"
)

// Entity is one span extracted from the input, with byte offsets.
type Entity struct {
	Value string `json:"value"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Intent patterns are matched in order; the first hit wins. Word boundaries
// are written with \P{L} because accented letters fall outside RE2's \b.
var intentDefs = []struct {
	name    string
	pattern string
}{
	{IntentGreeting, `(?i)(^|\P{L})(hello|hi|hey|bonjour|salut)(\P{L}|$)`},
	{IntentFarewell, `(?i)(^|\P{L})(goodbye|bye|au revoir|ciao)(\P{L}|$)`},
	{IntentQuestion, `(?i)(^|\P{L})(what|when|where|who|how|why|quoi|quand|où|qui|quel|quelle|comment|pourquoi)(\P{L}|$)`},
	{IntentCommand, `(?i)(^|\P{L})(please|pls|stp|svp)(\P{L}|$)`},
}

var entityDefs = []struct {
	name    string
	pattern string
}{
	{"date", `\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`},
	{"time", `\b\d{1,2}[:h]\d{2}\b`},
	{"email", `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`},
	{"phone", `\b(?:\+\d{1,3}[-. ]?)?\d{2,3}[-. ]?\d{2,3}[-. ]?\d{2,3}\b`},
}

// intentVocabulary maps every trigger word to its intent, in match priority
// order. It doubles as spell-correction training data.
var intentVocabulary = []struct {
	word   string
	intent string
}{
	{"hello", IntentGreeting}, {"bonjour", IntentGreeting}, {"salut", IntentGreeting},
	{"goodbye", IntentFarewell}, {"revoir", IntentFarewell}, {"ciao", IntentFarewell},
	{"what", IntentQuestion}, {"when", IntentQuestion}, {"where", IntentQuestion},
	{"quoi", IntentQuestion}, {"quand", IntentQuestion}, {"comment", IntentQuestion},
	{"pourquoi", IntentQuestion}, {"quelle", IntentQuestion},
	{"please", IntentCommand},
}

var extraVocabulary = []string{
	"heure", "merci", "aide", "assistant", "musique", "temps", "jour",
}

type compiledIntent struct {
	name string
	re   *regexp.Regexp
}

type compiledEntity struct {
	name string
	re   *regexp.Regexp
}

type Option func(*Processor)

// WithLanguage overrides the response language tag.
func WithLanguage(lang string) Option {
	return func(p *Processor) {
		if lang != "" {
			p.language = lang
		}
	}
}

// WithLogger overrides the processor logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock injects the time source used for greetings and time answers.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithVocabulary trains extra words into the spell-correction model.
func WithVocabulary(words ...string) Option {
	return func(p *Processor) {
		p.extraWords = append(p.extraWords, words...)
	}
}

// Processor analyses raw input text and produces assistant replies.
type Processor struct {
	language   string
	logger     *log.Logger
	now        func() time.Time
	extraWords []string

	intents  []compiledIntent
	entities []compiledEntity
	spell    *fuzzy.Model
	vocab    map[string]struct{}
}

var _ conversation.Processor = (*Processor)(nil)

// NewProcessor compiles the pattern tables and trains the correction model.
func NewProcessor(opts ...Option) *Processor {
	p := &Processor{
		language: "fr",
		logger:   log.Default(),
		now:      time.Now,
		vocab:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, def := range intentDefs {
		p.intents = append(p.intents, compiledIntent{name: def.name, re: regexp.MustCompile(def.pattern)})
	}
	for _, def := range entityDefs {
		p.entities = append(p.entities, compiledEntity{name: def.name, re: regexp.MustCompile(def.pattern)})
	}

	var words []string
	for _, kw := range intentVocabulary {
		words = append(words, kw.word)
	}
	words = append(words, extraVocabulary...)
	words = append(words, p.extraWords...)
	for _, w := range words {
		p.vocab[strings.ToLower(w)] = struct{}{}
	}

	p.spell = fuzzy.NewModel()
	p.spell.SetThreshold(1)
	p.spell.SetDepth(2)
	p.spell.Train(words)

	return p
}

// Clean trims the input and collapses runs of whitespace.
func (p *Processor) Clean(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Correct runs every token through the spell model and returns the corrected
// text. Tokens shorter than four runes and known words pass through.
func (p *Processor) Correct(text string) string {
	toks := tokenize(text)
	if len(toks) == 0 {
		return text
	}

	changed := false
	out := make([]string, len(toks))
	for i, tok := range toks {
		out[i] = tok
		if len([]rune(tok)) < 4 {
			continue
		}
		if _, known := p.vocab[tok]; known {
			continue
		}
		if fixed := p.spell.SpellCheck(tok); fixed != "" && fixed != tok {
			out[i] = fixed
			changed = true
		}
	}
	if !changed {
		return text
	}
	return strings.Join(out, " ")
}

// DetectIntent returns the first matching intent for the text. When no
// pattern matches, tokens one edit away from a trigger word decide the
// intent; otherwise IntentUnknown.
func (p *Processor) DetectIntent(text string) string {
	for _, intent := range p.intents {
		if intent.re.MatchString(text) {
			return intent.name
		}
	}

	for _, tok := range tokenize(text) {
		if len([]rune(tok)) < 4 {
			continue
		}
		for _, kw := range intentVocabulary {
			if len([]rune(kw.word)) < 4 {
				continue
			}
			if levenshtein.ComputeDistance(tok, kw.word) == 1 {
				return kw.intent
			}
		}
	}
	return IntentUnknown
}

// ExtractEntities returns spans for dates, times, emails, and phone numbers.
func (p *Processor) ExtractEntities(text string) map[string][]Entity {
	found := make(map[string][]Entity)
	for _, entity := range p.entities {
		for _, span := range entity.re.FindAllStringIndex(text, -1) {
			found[entity.name] = append(found[entity.name], Entity{
				Value: text[span[0]:span[1]],
				Start: span[0],
				End:   span[1],
			})
		}
	}
	return found
}

// Respond implements conversation.Processor.
func (p *Processor) Respond(ctx context.Context, input string, history []conversation.Message, convContext map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cleaned := p.Clean(input)
	if cleaned == "" {
		return "", nil
	}

	corrected := p.Correct(cleaned)
	intent := p.DetectIntent(corrected)

	switch intent {
	case IntentGreeting:
		return p.greeting(), nil
	case IntentFarewell:
		return "Au revoir! N'hésitez pas à me solliciter si vous avez besoin d'aide.", nil
	case IntentQuestion:
		return p.answerQuestion(corrected), nil
	case IntentCommand:
		return "Je vais m'occuper de cela tout de suite.", nil
	default:
		return "Je vous écoute. Comment puis-je vous aider?", nil
	}
}

func (p *Processor) greeting() string {
	hour := p.now().Hour()
	switch {
	case hour >= 5 && hour < 12:
		return "Bonjour! Comment puis-je vous aider?"
	case hour >= 12 && hour < 18:
		return "Bon après-midi! Que puis-je faire pour vous?"
	default:
		return "Bonsoir! En quoi puis-je vous être utile?"
	}
}

func (p *Processor) answerQuestion(text string) string {
	for _, tok := range tokenize(text) {
		if tok == "heure" {
			return fmt.Sprintf("Il est %s.", p.now().Format("15h04"))
		}
	}
	return "Je vais essayer de répondre à votre question..."
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

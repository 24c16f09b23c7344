// Package chunker implements the outbound chunking and timing engine.
//
// It splits a generated reply into an ordered sequence of message fragments at
// natural sentence boundaries and assigns each fragment a pre-send "thinking"
// pause and a size-proportional typing delay, so multi-part replies read like
// a human typing. Plan is a pure transformation: the same input and RNG seed
// always produce the same fragment plan.
package chunker

import (
	"math/rand/v2"
	"strings"
	"time"
	"unicode"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
)

// Default tunables for fragment sizing and delays.
const (
	DefaultMinWords         = 3
	DefaultMaxWords         = 30
	DefaultMaxChars         = 1200
	DefaultMergeProbability = 0.6
	DefaultWordsPerMinute   = 45

	// DefaultMinDelay and DefaultMaxDelay clamp every computed delay so the
	// engine can never stall indefinitely or fire instantaneously.
	DefaultMinDelay = 300 * time.Millisecond
	DefaultMaxDelay = 4 * time.Second
)

// Thinking-pause ranges. The first fragment of a reply gets a larger pause
// than subsequent ones.
const (
	firstPreDelayMin = 800 * time.Millisecond
	firstPreDelayMax = 2500 * time.Millisecond
	nextPreDelayMin  = 300 * time.Millisecond
	nextPreDelayMax  = 1200 * time.Millisecond
)

// averageWordLength converts a words-per-minute rate into characters per
// second (five characters per word is the usual convention).
const averageWordLength = 5

// knownAbbreviations are sentence-terminal lookalikes that must not split.
var knownAbbreviations = map[string]bool{
	"dr":   true,
	"dra":  true,
	"sr":   true,
	"sra":  true,
	"av":   true,
	"prof": true,
	"eng":  true,
	"obs":  true,
	"kwh":  true,
	"etc":  true,
}

// Opts holds configuration for the Engine.
type Opts struct {
	MinWords         int
	MaxWords         int
	MaxChars         int
	MergeProbability float64
	WordsPerMinute   int
	MinDelay         time.Duration
	MaxDelay         time.Duration
	ColonToEllipsis  bool
	Rand             *rand.Rand
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithWordBounds sets the per-fragment word bounds.
func WithWordBounds(min, max int) Option {
	return func(o *Opts) { o.MinWords, o.MaxWords = min, max }
}

// WithMaxChars sets the hard per-fragment character cap.
func WithMaxChars(n int) Option {
	return func(o *Opts) { o.MaxChars = n }
}

// WithMergeProbability sets the chance of joining two adjacent short
// sentences into one fragment.
func WithMergeProbability(p float64) Option {
	return func(o *Opts) { o.MergeProbability = p }
}

// WithWordsPerMinute sets the base typing rate.
func WithWordsPerMinute(wpm int) Option {
	return func(o *Opts) { o.WordsPerMinute = wpm }
}

// WithDelayClamp sets the lower and upper bounds applied to every delay.
func WithDelayClamp(min, max time.Duration) Option {
	return func(o *Opts) { o.MinDelay, o.MaxDelay = min, max }
}

// WithColonToEllipsis toggles converting a trailing colon into an ellipsis.
func WithColonToEllipsis(enabled bool) Option {
	return func(o *Opts) { o.ColonToEllipsis = enabled }
}

// WithRand injects the random source. Tests use a fixed seed so a plan is
// reproducible; production seeds from system entropy.
func WithRand(r *rand.Rand) Option {
	return func(o *Opts) { o.Rand = r }
}

// Engine turns reply text into humanized fragment plans.
type Engine struct {
	opts Opts
	rng  *rand.Rand
}

// NewEngine creates an Engine with the given options applied over defaults.
func NewEngine(opts ...Option) *Engine {
	cfg := Opts{
		MinWords:         DefaultMinWords,
		MaxWords:         DefaultMaxWords,
		MaxChars:         DefaultMaxChars,
		MergeProbability: DefaultMergeProbability,
		WordsPerMinute:   DefaultWordsPerMinute,
		MinDelay:         DefaultMinDelay,
		MaxDelay:         DefaultMaxDelay,
		ColonToEllipsis:  true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{opts: cfg, rng: rng}
}

// Plan splits replyText into an ordered fragment sequence with delays tuned
// for the given conversational stage. Never fails; empty input yields an
// empty plan.
func (e *Engine) Plan(replyText string, stage models.Stage) models.FragmentPlan {
	plan := models.FragmentPlan{Stage: stage}

	normalized := e.normalize(replyText)
	if normalized == "" {
		return plan
	}

	profile := stageProfileFor(stage)
	maxWords := e.opts.MaxWords
	if profile.maxWords > 0 && profile.maxWords < maxWords {
		maxWords = profile.maxWords
	}

	sentences := splitSentences(normalized)
	merged := e.mergeProbabilistically(sentences, maxWords)
	bounded := e.enforceBounds(merged, maxWords)

	for i, text := range bounded {
		plan.Fragments = append(plan.Fragments, models.MessageFragment{
			Text:        text,
			PreDelay:    e.preDelay(i == 0),
			TypingDelay: e.typingDelay(text, profile.speedFactor),
		})
	}
	return plan
}

// stageProfile modulates fragment size and typing speed per stage: opening
// stages use shorter fragments and snappier delays, explanation-heavy stages
// allow longer fragments typed at a calmer pace.
type stageProfile struct {
	maxWords    int
	speedFactor float64
}

func stageProfileFor(stage models.Stage) stageProfile {
	switch stage {
	case models.StageNew, models.StageIdentifyingNeed:
		return stageProfile{maxWords: 14, speedFactor: 1.25}
	case models.StagePresentingSolution, models.StageHandlingObjection:
		return stageProfile{speedFactor: 0.85}
	default:
		return stageProfile{speedFactor: 1.0}
	}
}

// normalize collapses whitespace runs, converts double-asterisk bold to the
// WhatsApp single-asterisk form, and optionally turns a trailing colon into
// an ellipsis.
func (e *Engine) normalize(text string) string {
	text = strings.ReplaceAll(text, "**", "*")
	text = strings.Join(strings.Fields(text), " ")
	if e.opts.ColonToEllipsis && strings.HasSuffix(text, ":") {
		text = strings.TrimSuffix(text, ":") + "..."
	}
	return text
}

// splitSentences finds sentence-terminal boundaries while treating known
// abbreviations and decimal numbers as non-boundaries, and never splitting
// inside a URL or inside bold markers.
func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	var current strings.Builder
	boldOpen := false
	inURL := false

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		current.WriteRune(ch)

		switch {
		case ch == '*':
			boldOpen = !boldOpen
			continue
		case unicode.IsSpace(ch):
			inURL = false
			continue
		}

		if !inURL && startsURL(runes, i) {
			inURL = true
		}

		if !isSentenceTerminal(ch) || boldOpen || inURL {
			continue
		}
		if ch == '.' && (isDecimalPoint(runes, i) || isAbbreviation(runes, i)) {
			continue
		}

		// Consume a run of terminal punctuation ("?!", "...").
		for i+1 < len(runes) && isSentenceTerminal(runes[i+1]) {
			i++
			current.WriteRune(runes[i])
		}
		flush()
	}
	flush()
	return sentences
}

func isSentenceTerminal(ch rune) bool {
	return ch == '.' || ch == '!' || ch == '?'
}

// startsURL reports whether a URL begins at or just before position i.
func startsURL(runes []rune, i int) bool {
	rest := string(runes[i:])
	return strings.HasPrefix(rest, "http://") || strings.HasPrefix(rest, "https://") || strings.HasPrefix(rest, "www.")
}

// isDecimalPoint reports whether the '.' at position i sits between digits.
func isDecimalPoint(runes []rune, i int) bool {
	return i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1])
}

// isAbbreviation reports whether the word ending at the '.' at position i is
// a known abbreviation.
func isAbbreviation(runes []rune, i int) bool {
	start := i
	for start > 0 && unicode.IsLetter(runes[start-1]) {
		start--
	}
	word := strings.ToLower(string(runes[start:i]))
	return knownAbbreviations[word]
}

// mergeProbabilistically re-joins adjacent sentences with the configured
// probability so fragment boundaries do not always align 1:1 with sentences.
// Merges respect the word cap.
func (e *Engine) mergeProbabilistically(sentences []string, maxWords int) []string {
	if len(sentences) < 2 {
		return sentences
	}

	var out []string
	current := sentences[0]
	for _, next := range sentences[1:] {
		combined := wordCount(current) + wordCount(next)
		if combined <= maxWords && e.rng.Float64() < e.opts.MergeProbability {
			current = current + " " + next
			continue
		}
		out = append(out, current)
		current = next
	}
	out = append(out, current)
	return out
}

// enforceBounds re-splits oversized fragments and merges undersized ones
// until every fragment falls within the word bounds and the character cap.
// A fragment smaller than MinWords can only survive when the entire reply is
// that small.
func (e *Engine) enforceBounds(fragments []string, maxWords int) []string {
	var sized []string
	for _, f := range fragments {
		sized = append(sized, e.splitOversized(f, maxWords)...)
	}

	var out []string
	for _, f := range sized {
		if len(out) > 0 && (wordCount(f) < e.opts.MinWords || wordCount(out[len(out)-1]) < e.opts.MinWords) {
			candidate := out[len(out)-1] + " " + f
			if wordCount(candidate) <= maxWords && len(candidate) <= e.opts.MaxChars {
				out[len(out)-1] = candidate
				continue
			}
			// The merge overshoots a cap. Merging anyway and re-splitting
			// at a balanced cut leaves no undersized fragment behind,
			// which keeping the short piece on its own would.
			out = append(out[:len(out)-1], e.splitOversized(candidate, maxWords)...)
			continue
		}
		out = append(out, f)
	}
	return out
}

// splitOversized halves a fragment by word count until both word and
// character caps hold, preferring a comma boundary near the midpoint.
func (e *Engine) splitOversized(fragment string, maxWords int) []string {
	words := strings.Fields(fragment)
	if len(words) <= maxWords && len(fragment) <= e.opts.MaxChars {
		return []string{fragment}
	}
	if len(words) <= 1 {
		// A single token over the character cap is cut by characters.
		runes := []rune(fragment)
		var parts []string
		for len(runes) > e.opts.MaxChars {
			parts = append(parts, string(runes[:e.opts.MaxChars]))
			runes = runes[e.opts.MaxChars:]
		}
		if len(runes) > 0 {
			parts = append(parts, string(runes))
		}
		return parts
	}

	mid := len(words) / 2
	// Look for a comma-terminated word near the midpoint for a natural cut.
	cut := mid
	for offset := 0; offset <= len(words)/4; offset++ {
		if mid-offset > 0 && strings.HasSuffix(words[mid-offset-1], ",") {
			cut = mid - offset
			break
		}
		if mid+offset < len(words) && strings.HasSuffix(words[mid+offset-1], ",") {
			cut = mid + offset
			break
		}
	}
	if cut <= 0 || cut >= len(words) {
		cut = mid
	}

	left := strings.Join(words[:cut], " ")
	right := strings.Join(words[cut:], " ")
	return append(e.splitOversized(left, maxWords), e.splitOversized(right, maxWords)...)
}

// typingDelay computes the size-proportional typing simulation for one
// fragment, clamped to the configured bounds.
func (e *Engine) typingDelay(text string, speedFactor float64) time.Duration {
	charsPerSecond := float64(e.opts.WordsPerMinute*averageWordLength) / 60.0 * speedFactor
	if charsPerSecond <= 0 {
		charsPerSecond = 1
	}
	delay := time.Duration(float64(len([]rune(text))) / charsPerSecond * float64(time.Second))
	return e.clamp(delay)
}

// preDelay computes the random thinking pause before a fragment.
func (e *Engine) preDelay(first bool) time.Duration {
	min, max := nextPreDelayMin, nextPreDelayMax
	if first {
		min, max = firstPreDelayMin, firstPreDelayMax
	}
	delay := min + time.Duration(e.rng.Int64N(int64(max-min)))
	return e.clamp(delay)
}

func (e *Engine) clamp(d time.Duration) time.Duration {
	if d < e.opts.MinDelay {
		return e.opts.MinDelay
	}
	if d > e.opts.MaxDelay {
		return e.opts.MaxDelay
	}
	return d
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

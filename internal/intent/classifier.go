// Package intent decides whether a text message asks for a photo or is plain chat.
package intent

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"linechat/internal/domain"
)

// DefaultTriggers match "take/took a photo" in Japanese. Longer
// conjugations come first because alternation is leftmost-first. The named
// group is the part removed from the prompt; the trailing class keeps verb
// forms that continue into another word (とっても, 撮るのは) from matching.
var DefaultTriggers = []string{
	`(?P<trigger>(?:写真|画像|しゃしん)\s*(?:を\s*)?(?:撮影して|撮影した|撮影する|撮影|撮ってください|撮って|撮った|撮る|撮れ|撮ろう|撮り|とってください|とって|とった|とる|とれ|とろう))(?:[^もはのがし]|$)`,
}

// promptCutset is trimmed from both ends of the remaining prompt.
const promptCutset = " \t\r\n　、。,.!！?？"

// demonstratives end in の but never own the photo subject.
var demonstratives = []string{"この", "その", "あの", "どの"}

type trigger struct {
	re *regexp.Regexp
	// group is the submatch removed from the text, 0 for the whole match.
	group int
	// builtin triggers also drop a particle joining the subject to them.
	builtin bool
}

// Classifier routes text messages by an ordered list of trigger patterns.
type Classifier struct {
	triggers []trigger
	logger   *slog.Logger
}

// NewClassifier compiles the default triggers followed by extra ones.
func NewClassifier(extra []string, logger *slog.Logger) (*Classifier, error) {
	c := &Classifier{
		triggers: make([]trigger, 0, len(DefaultTriggers)+len(extra)),
		logger:   logger,
	}
	for i, p := range append(append([]string{}, DefaultTriggers...), extra...) {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile trigger %q: %w", p, err)
		}
		t := trigger{re: re, builtin: i < len(DefaultTriggers)}
		if g := re.SubexpIndex("trigger"); g > 0 {
			t.group = g
		}
		c.triggers = append(c.triggers, t)
	}
	return c, nil
}

// Classify returns an image generation intent with the trigger removed when a
// trigger matches, and plain chat with the text unchanged otherwise.
func (c *Classifier) Classify(text string) domain.Intent {
	for _, t := range c.triggers {
		m := t.re.FindStringSubmatchIndex(text)
		if m == nil || m[2*t.group] < 0 {
			continue
		}
		start, end := m[2*t.group], m[2*t.group+1]
		before := text[:start]
		if t.builtin {
			before = trimParticle(before)
		}
		prompt := strings.Trim(before+text[end:], promptCutset)
		if c.logger != nil {
			c.logger.Debug("image trigger matched", "trigger", text[start:end], "prompt_len", len(prompt))
		}
		return domain.Intent{Kind: domain.IntentImageGeneration, Text: prompt}
	}
	return domain.Intent{Kind: domain.IntentPlainChat, Text: text}
}

// trimParticle drops a trailing の or を that joins the subject to the
// trigger ("猫の写真" keeps "猫"). A standalone demonstrative such as この
// is kept whole.
func trimParticle(s string) string {
	s = strings.TrimRight(s, " \t　")
	switch {
	case strings.HasSuffix(s, "を"):
		return strings.TrimSuffix(s, "を")
	case strings.HasSuffix(s, "の"):
		for _, d := range demonstratives {
			rest, ok := strings.CutSuffix(s, d)
			if ok && (rest == "" || strings.ContainsAny(lastRune(rest), promptCutset)) {
				return s
			}
		}
		return strings.TrimSuffix(s, "の")
	}
	return s
}

func lastRune(s string) string {
	r, size := utf8.DecodeLastRuneInString(s)
	if r == utf8.RuneError {
		return ""
	}
	return s[len(s)-size:]
}

// File: internal/humanize/keyboard.go
package humanize

import (
	"time"
	"unicode"
)

// KeyAction discriminates the events in a keystroke stream.
type KeyAction int

const (
	// KeyPress types a single rune.
	KeyPress KeyAction = iota
	// KeyBackspace deletes the previously typed rune.
	KeyBackspace
)

// KeyEvent is one element of a synthesized keystroke stream. Delay is the
// pause before the event is dispatched.
type KeyEvent struct {
	Action KeyAction
	Rune   rune
	Delay  time.Duration
	// Slip marks events that belong to an injected typo (the wrong key and
	// its correcting backspace), not to the intended text.
	Slip bool
}

// keyboardNeighbors maps each key to its physical neighbors on a QWERTY
// layout, used to pick plausible slip characters.
var keyboardNeighbors = map[rune]string{
	'1': "2q`", '2': "13wq", '3': "24we", '4': "35er", '5': "46rt", '6': "57ty",
	'7': "68yu", '8': "79ui", '9': "80io", '0': "9-op",
	'q': "wa1s", 'w': "qase23", 'e': "wsdr34", 'r': "edft45", 't': "rfgy56",
	'y': "tghu67", 'u': "yhji78", 'i': "ujko89", 'o': "iklp90", 'p': "ol;0-",
	'a': "qwsz", 's': "awedxz", 'd': "serfcx", 'f': "drtgvc", 'g': "ftyhbv",
	'h': "gyujnb", 'j': "huikmn", 'k': "jiol,m", 'l': "kop;.",
	'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn", 'n': "bhjm", 'm': "njk,",
}

// commonNgrams lists letter sequences typed noticeably faster by
// practiced typists.
var commonNgrams = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true, "re": true,
	"es": true, "on": true, "st": true, "nt": true,
	"the": true, "and": true, "ing": true, "ion": true, "tio": true,
}

// Keystrokes emits one timed event per character of text, with a
// configurable probability of injecting an adjacent-key slip followed by
// a correcting backspace before the true character. Delays are sampled
// from a lognormal distribution so the cadence never looks metronomic.
func (s *Synthesizer) Keystrokes(text string) []KeyEvent {
	runes := []rune(text)
	events := make([]KeyEvent, 0, len(runes)+4)
	typoRate := s.cfg.TypoRate * s.cfg.Profile.typoScale()

	for i, r := range runes {
		if s.rng.Float64() < typoRate {
			if slip, ok := s.slipFor(r); ok {
				events = append(events,
					KeyEvent{Action: KeyPress, Rune: slip, Delay: s.keyDelay(runes, i), Slip: true},
					// The pause before noticing and correcting a typo is
					// noticeably longer than a regular inter-key delay.
					KeyEvent{Action: KeyBackspace, Delay: s.keyDelay(nil, 0) * 2, Slip: true},
				)
			}
		}
		events = append(events, KeyEvent{Action: KeyPress, Rune: r, Delay: s.keyDelay(runes, i)})
	}
	return events
}

// keyDelay samples the inter-key delay for the rune at index, shortened
// for common n-grams.
func (s *Synthesizer) keyDelay(runes []rune, index int) time.Duration {
	factor := 1.0
	if runes != nil && index > 0 && index < len(runes) {
		if index >= 2 && commonNgrams[string(toLower(runes[index-2:index+1]))] {
			factor = 0.55
		} else if commonNgrams[string(toLower(runes[index-1:index+1]))] {
			factor = 0.7
		}
	}

	ms := s.logNormal(s.cfg.KeyDelayLogMu, s.cfg.KeyDelayLogSigma)
	ms *= factor * s.cfg.Profile.tempo()
	if ms < 15.0 {
		ms = 15.0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// slipFor picks an adjacent key for the intended rune, preserving case.
func (s *Synthesizer) slipFor(r rune) (rune, bool) {
	neighbors, ok := keyboardNeighbors[unicode.ToLower(r)]
	if !ok || len(neighbors) == 0 {
		return 0, false
	}
	slip := rune(neighbors[s.rng.Intn(len(neighbors))])
	if unicode.IsUpper(r) {
		slip = unicode.ToUpper(slip)
	}
	return slip, true
}

func toLower(runes []rune) []rune {
	out := make([]rune, len(runes))
	for i, r := range runes {
		out[i] = unicode.ToLower(r)
	}
	return out
}

package engine

import (
	"regexp"
	"strconv"
	"strings"
)

// PitchMarkup returns the empty pitch element that sets the absolute middle
// pitch for the text that follows it.
func PitchMarkup(pitch int) string {
	return `<pitch absmiddle="` + strconv.Itoa(pitch) + `"/>`
}

// SilenceMarkup returns an element that inserts ms milliseconds of silence.
func SilenceMarkup(ms int) string {
	return `<silence msec="` + strconv.Itoa(ms) + `"/>`
}

// Markup is the parsed form of text built with PitchMarkup and SilenceMarkup.
type Markup struct {
	Pitch         int
	PreSilenceMS  int
	PostSilenceMS int
	Text          string
}

var (
	pitchElem   = regexp.MustCompile(`^<pitch absmiddle="(-?\d+)"\s*/>`)
	silenceHead = regexp.MustCompile(`^<silence msec="(\d+)"\s*/>`)
	silenceTail = regexp.MustCompile(`<silence msec="(\d+)"\s*/>$`)
)

// ParseMarkup strips the leading pitch and silence elements and a trailing
// silence element from s. Backends that cannot interpret engine markup use it
// to recover plain text and settings.
func ParseMarkup(s string) Markup {
	var m Markup
	if sub := pitchElem.FindStringSubmatch(s); sub != nil {
		m.Pitch, _ = strconv.Atoi(sub[1])
		s = s[len(sub[0]):]
	}
	if sub := silenceHead.FindStringSubmatch(s); sub != nil {
		m.PreSilenceMS, _ = strconv.Atoi(sub[1])
		s = s[len(sub[0]):]
	}
	if sub := silenceTail.FindStringSubmatch(s); sub != nil {
		m.PostSilenceMS, _ = strconv.Atoi(sub[1])
		s = s[:len(s)-len(sub[0])]
	}
	m.Text = strings.TrimSpace(s)
	return m
}

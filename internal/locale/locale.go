// Package locale translates native numeric locale identifiers (LCIDs) reported
// by speech engines into language tags, and back.
package locale

import (
	"strings"
	"sync"

	"golang.org/x/text/language"
)

// lcidNames mirrors the names LCIDToLocaleName produces for the identifiers
// speech engines commonly register voices and recognizers under.
var lcidNames = map[uint32]string{
	0x0401: "ar-SA",
	0x0402: "bg-BG",
	0x0403: "ca-ES",
	0x0404: "zh-TW",
	0x0405: "cs-CZ",
	0x0406: "da-DK",
	0x0407: "de-DE",
	0x0408: "el-GR",
	0x0409: "en-US",
	0x040A: "es-ES_tradnl",
	0x040B: "fi-FI",
	0x040C: "fr-FR",
	0x040D: "he-IL",
	0x040E: "hu-HU",
	0x040F: "is-IS",
	0x0410: "it-IT",
	0x0411: "ja-JP",
	0x0412: "ko-KR",
	0x0413: "nl-NL",
	0x0414: "nb-NO",
	0x0415: "pl-PL",
	0x0416: "pt-BR",
	0x0418: "ro-RO",
	0x0419: "ru-RU",
	0x041A: "hr-HR",
	0x041B: "sk-SK",
	0x041D: "sv-SE",
	0x041E: "th-TH",
	0x041F: "tr-TR",
	0x0420: "ur-PK",
	0x0421: "id-ID",
	0x0422: "uk-UA",
	0x0423: "be-BY",
	0x0424: "sl-SI",
	0x0425: "et-EE",
	0x0426: "lv-LV",
	0x0427: "lt-LT",
	0x0429: "fa-IR",
	0x042A: "vi-VN",
	0x042D: "eu-ES",
	0x042F: "mk-MK",
	0x0436: "af-ZA",
	0x0439: "hi-IN",
	0x043E: "ms-MY",
	0x0441: "sw-KE",
	0x0445: "bn-IN",
	0x0446: "pa-IN",
	0x0447: "gu-IN",
	0x0449: "ta-IN",
	0x044A: "te-IN",
	0x044B: "kn-IN",
	0x044C: "ml-IN",
	0x044E: "mr-IN",
	0x0456: "gl-ES",
	0x0464: "fil-PH",
	0x0801: "ar-IQ",
	0x0804: "zh-CN",
	0x0807: "de-CH",
	0x0809: "en-GB",
	0x080A: "es-MX",
	0x080C: "fr-BE",
	0x0810: "it-CH",
	0x0813: "nl-BE",
	0x0816: "pt-PT",
	0x081A: "sr-Latn-CS",
	0x0C01: "ar-EG",
	0x0C04: "zh-HK",
	0x0C07: "de-AT",
	0x0C09: "en-AU",
	0x0C0A: "es-ES",
	0x0C0C: "fr-CA",
	0x1004: "zh-SG",
	0x1009: "en-CA",
	0x100C: "fr-CH",
	0x1401: "ar-DZ",
	0x1409: "en-NZ",
	0x140A: "es-CR",
	0x1809: "en-IE",
	0x1C09: "en-ZA",
	0x2009: "en-JM",
	0x240A: "es-CO",
	0x2C0A: "es-AR",
	0x3409: "en-PH",
	0x4009: "en-IN",
	0x4409: "en-MY",
	0x4809: "en-SG",
	0x540A: "es-US",
}

const maxAttribute = 0x7FFFFFFF

var (
	reverseOnce sync.Once
	reverse     map[string]uint32
)

// Tag resolves a native locale identifier to its language tag. Unknown
// identifiers resolve to the empty string.
func Tag(lcid uint32) string {
	return lcidNames[lcid]
}

// ParseAttribute reads a hexadecimal locale identifier from a raw engine
// attribute value. Like strtol with base 16 it consumes an optional 0x prefix
// and the leading run of hex digits, so "409;9" yields 0x409. Values without a
// leading hex digit yield 0, and values past the signed 32-bit range saturate
// at 0x7FFFFFFF.
func ParseAttribute(raw string) uint32 {
	s := strings.TrimSpace(raw)
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	var v uint64
	for i := 0; i < len(s); i++ {
		d, ok := hexDigit(s[i])
		if !ok {
			break
		}
		v = v<<4 | uint64(d)
		if v > maxAttribute {
			return maxAttribute
		}
	}
	return uint32(v)
}

// TagFromAttribute parses a raw Language attribute and resolves it to a tag.
func TagFromAttribute(raw string) string {
	return Tag(ParseAttribute(raw))
}

// LCID looks up the native identifier for a language tag. The tag is
// canonicalised first so "en-us" and "en_US" both resolve to 0x409.
func LCID(tag string) (uint32, bool) {
	reverseOnce.Do(buildReverse)
	if id, ok := reverse[tag]; ok {
		return id, true
	}
	canonical := Canonical(tag)
	if canonical == "" {
		return 0, false
	}
	id, ok := reverse[canonical]
	return id, ok
}

// Canonical returns the BCP 47 form of tag, or "" if it cannot be parsed.
func Canonical(tag string) string {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return ""
	}
	return t.String()
}

func buildReverse() {
	reverse = make(map[string]uint32, len(lcidNames)*2)
	for id, name := range lcidNames {
		if existing, ok := reverse[name]; !ok || id < existing {
			reverse[name] = id
		}
		if c := Canonical(name); c != "" {
			if existing, ok := reverse[c]; !ok || id < existing {
				reverse[c] = id
			}
		}
	}
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

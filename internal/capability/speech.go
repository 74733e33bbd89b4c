package capability

import (
	"strconv"
	"strings"
)

// Speech describes a local speech engine as an announced capability.
func Speech(name, mode string, supported bool, languages []string) Capability {
	return Capability{
		Name: name,
		Tier: "local",
		Attributes: map[string]string{
			AttrSupported: strconv.FormatBool(supported),
			AttrLanguages: strings.Join(languages, ","),
			AttrMode:      mode,
		},
	}
}

// Languages splits the languages attribute of c.
func (c Capability) Languages() []string {
	raw := c.Attributes[AttrLanguages]
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// WithLanguage matches nodes offering capability name in language.
func WithLanguage(name, language string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, c := range node.Capabilities {
			if c.Name != name || c.Attributes[AttrSupported] != "true" {
				continue
			}
			for _, l := range c.Languages() {
				if strings.EqualFold(l, language) {
					return true
				}
			}
		}
		return false
	}
}

package engine

// Attribute names engines register on installed voice and recognizer tokens.
const (
	AttrLanguage = "Language"
	AttrName     = "Name"
	AttrGender   = "Gender"
	AttrVendor   = "Vendor"
)

// Token identifies an installed engine resource (a voice, a recognizer, an
// audio input) together with its registered attributes.
type Token struct {
	ID         string
	Attributes map[string]string
}

// Attr returns the named attribute, or a FaultNotFound fault if the token
// does not carry it.
func (t Token) Attr(name string) (string, error) {
	v, ok := t.Attributes[name]
	if !ok {
		return "", NewFault(FaultNotFound, "")
	}
	return v, nil
}

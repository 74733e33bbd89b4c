package events

// Funcs adapts plain functions to a Listener. Nil fields are ignored.
type Funcs struct {
	OnSuccess func(value any)
	OnError   func(code, message string, details any)
}

func (f Funcs) Success(value any) {
	if f.OnSuccess != nil {
		f.OnSuccess(value)
	}
}

func (f Funcs) Error(code, message string, details any) {
	if f.OnError != nil {
		f.OnError(code, message, details)
	}
}

type multi []Listener

// Multi fans every delivery out to each non-nil listener in order.
func Multi(listeners ...Listener) Listener {
	var out multi
	for _, l := range listeners {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func (m multi) Success(value any) {
	for _, l := range m {
		l.Success(value)
	}
}

func (m multi) Error(code, message string, details any) {
	for _, l := range m {
		l.Error(code, message, details)
	}
}

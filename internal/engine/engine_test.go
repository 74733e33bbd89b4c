package engine

import (
	"errors"
	"fmt"
	"testing"
)

type handle struct{ released int }

func (h *handle) Release() { h.released++ }

func TestSlotLifecycle(t *testing.T) {
	var s Slot[*handle]
	if s.State() != SlotAbsent {
		t.Fatalf("expected absent, got %s", s.State())
	}
	if _, ok := s.Get(); ok {
		t.Fatal("absent slot must not yield a handle")
	}
	if !s.Begin() {
		t.Fatal("expected Begin to succeed on absent slot")
	}
	if s.Begin() {
		t.Fatal("expected Begin to fail while initializing")
	}
	h := &handle{}
	if !s.Complete(h, nil) {
		t.Fatal("expected Complete to install handle")
	}
	got, ok := s.Get()
	if !ok || got != h {
		t.Fatal("expected ready handle")
	}
	s.Release()
	if h.released != 1 {
		t.Fatalf("expected one release, got %d", h.released)
	}
	if s.State() != SlotAbsent {
		t.Fatalf("expected absent after release, got %s", s.State())
	}
	s.Release()
	if h.released != 1 {
		t.Fatal("double release must not release again")
	}
}

func TestSlotCompleteWithError(t *testing.T) {
	var s Slot[*handle]
	s.Begin()
	if s.Complete(nil, errors.New("boom")) {
		t.Fatal("expected failure")
	}
	if s.State() != SlotAbsent {
		t.Fatalf("expected absent, got %s", s.State())
	}
}

func TestSlotReleasedWhileInitializing(t *testing.T) {
	var s Slot[*handle]
	s.Begin()
	s.Release()
	h := &handle{}
	if s.Complete(h, nil) {
		t.Fatal("expected late completion to be dropped")
	}
	if h.released != 1 {
		t.Fatal("expected late handle to be released")
	}
}

func TestFault(t *testing.T) {
	f := NewFault(FaultNotFound, "")
	if f.Message == "" {
		t.Fatal("expected default message")
	}
	if f.CodeString() != "-2147200966" {
		t.Fatalf("unexpected code string %s", f.CodeString())
	}
	wrapped := fmt.Errorf("set voice: %w", f)
	if got := AsFault(wrapped); got != f {
		t.Fatal("expected fault to unwrap")
	}
	plain := AsFault(errors.New("disk"))
	if plain.Code != FaultFail || plain.Message != "disk" {
		t.Fatalf("unexpected conversion %+v", plain)
	}
	if AsFault(nil) != nil {
		t.Fatal("nil error must map to nil fault")
	}
}

func TestTokenAttr(t *testing.T) {
	tok := Token{ID: "v1", Attributes: map[string]string{AttrLanguage: "409"}}
	if v, err := tok.Attr(AttrLanguage); err != nil || v != "409" {
		t.Fatalf("unexpected attr %q %v", v, err)
	}
	_, err := tok.Attr(AttrGender)
	if AsFault(err).Code != FaultNotFound {
		t.Fatalf("expected not found fault, got %v", err)
	}
}

func TestParseMarkup(t *testing.T) {
	s := PitchMarkup(-4) + SilenceMarkup(250) + "hello world" + SilenceMarkup(100)
	m := ParseMarkup(s)
	if m.Pitch != -4 || m.PreSilenceMS != 250 || m.PostSilenceMS != 100 || m.Text != "hello world" {
		t.Fatalf("unexpected parse %+v", m)
	}

	plain := ParseMarkup("just text")
	if plain.Pitch != 0 || plain.Text != "just text" {
		t.Fatalf("unexpected parse %+v", plain)
	}

	if got := ParseMarkup(PitchMarkup(10) + "x").Pitch; got != 10 {
		t.Fatalf("expected pitch 10, got %d", got)
	}
}

func TestSpeakFlags(t *testing.T) {
	f := SpeakAsync | SpeakIsXML
	if !f.Has(SpeakAsync) || !f.Has(SpeakIsXML) || f.Has(SpeakPurgeBeforeSpeak) {
		t.Fatalf("unexpected flag set %b", f)
	}
}

// Package bindings loads the default binding declarations attached to every
// registered unit that does not declare its own.
package bindings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/animus-labs/dispatch-gateway/internal/domain"
	"gopkg.in/yaml.v3"
)

type file struct {
	Bindings []domain.Binding `yaml:"bindings"`
}

// Parse decodes a bindings document:
//
//	bindings:
//	  - type: plain_text
//	    name: GREETING
//	    text: hello
func Parse(data []byte) ([]domain.Binding, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode bindings: %w", err)
	}
	if err := domain.ValidateBindings(f.Bindings); err != nil {
		return nil, err
	}
	if f.Bindings == nil {
		f.Bindings = []domain.Binding{}
	}
	return f.Bindings, nil
}

func Load(path string) ([]domain.Binding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bindings %s: %w", path, err)
	}
	return Parse(data)
}

// Source holds the current default bindings. The zero value holds none.
type Source struct {
	current atomic.Pointer[[]domain.Binding]
}

func Static(bindings []domain.Binding) *Source {
	s := &Source{}
	s.set(bindings)
	return s
}

// Current returns a copy of the active bindings.
func (s *Source) Current() []domain.Binding {
	if s == nil {
		return nil
	}
	p := s.current.Load()
	if p == nil {
		return nil
	}
	out := make([]domain.Binding, len(*p))
	copy(out, *p)
	return out
}

func (s *Source) set(bindings []domain.Binding) {
	cp := make([]domain.Binding, len(bindings))
	copy(cp, bindings)
	s.current.Store(&cp)
}

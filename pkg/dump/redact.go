package dump

import (
	"fmt"
	"regexp"
)

// Redactor masks the values of captured variables with sensitive names.
type Redactor struct {
	patterns    []*regexp.Regexp
	replacement string
}

// NewRedactor compiles patterns matched against variable names.
func NewRedactor(patterns []string, replacement string) (*Redactor, error) {
	r := &Redactor{replacement: replacement}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *Redactor) matches(name string) bool {
	for _, re := range r.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Apply replaces matching values in place.
func (r *Redactor) Apply(vars []Variable) {
	for i := range vars {
		if vars[i].Value != "" && r.matches(vars[i].Name) {
			vars[i].Value = r.replacement
			vars[i].Redacted = true
		}
	}
}

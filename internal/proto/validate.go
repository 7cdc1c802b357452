package proto

import "github.com/rhopfer/cosignd/internal/store"

type nameValidity int

const (
	nameValid nameValidity = iota
	nameHasSlash
	nameTooLong
)

// validateCookieName classifies a cookie name against spec.md §3's naming
// invariants. Each command maps the two failure cases to its own
// reply code (spec.md §9: "the source's reply codes are not fully
// disjoint across commands; treat the (command, code) pair as the stable
// identifier").
func validateCookieName(name string) nameValidity {
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return nameHasSlash
		}
	}
	if len(name) >= store.MaxCookieLen {
		return nameTooLong
	}
	return nameValid
}

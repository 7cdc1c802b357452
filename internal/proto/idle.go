package proto

import "time"

// IdleOut and Grey are the idle-policy thresholds of spec.md §4.6. They
// are distinct from transport.CommandReadTimeout (SPEC_FULL.md
// supplemented feature 3): IdleOut/Grey govern a session record's
// activity age, not a single TCP read.
const (
	IdleOut = 7200 * time.Second
	Grey    = 1800 * time.Second
)

type idleVerdict int

const (
	idleOK idleVerdict = iota
	idleGrey
	idleExpired
)

// idleStatus implements the dual-threshold idle policy of spec.md §4.6.
//
// Both arms share the same grey-window test: IdleOut < age < IdleOut+Grey
// is always grey. They diverge at the single instant age == IdleOut+Grey:
// original_source/daemon/command.c's f_register requires age strictly
// greater than IdleOut+Grey to declare a session expired, while f_check
// and f_retr fall through to "expired" as soon as the grey-window test
// itself fails. strictExpiry selects REGISTER's stricter arm; CHECK and
// RETR pass false. This is preserved faithfully rather than unified, per
// the open question in spec.md §9.
func idleStatus(age time.Duration, strictExpiry bool) idleVerdict {
	switch {
	case age <= IdleOut:
		return idleOK
	case age < IdleOut+Grey:
		return idleGrey
	case strictExpiry:
		if age > IdleOut+Grey {
			return idleExpired
		}
		return idleOK
	default:
		return idleExpired
	}
}

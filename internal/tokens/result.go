package tokens

import "time"

// Result is the outcome of a validation. Reason is meant for the person
// holding the link; Err gives the matching sentinel for code.
type Result struct {
	Valid  bool
	Token  *AccessToken
	Reason string

	err error
}

func (r Result) Err() error { return r.err }

// Outcome is a short label for logs and metrics.
func (r Result) Outcome() string {
	switch r.err {
	case nil:
		return "valid"
	case ErrTokenNotFound:
		return "not_found"
	case ErrTokenInactive:
		return "revoked"
	case ErrTokenExhausted:
		return "exhausted"
	case ErrTokenExpired:
		return "expired"
	case ErrTokenNotYetValid:
		return "not_yet_valid"
	}
	return "invalid"
}

func notFound() Result {
	return Result{Reason: "Share link not found or no longer available", err: ErrTokenNotFound}
}

// check runs the rejection rules in order: active, view budget, then the
// policy window. It never changes t.
func check(t *AccessToken, now time.Time) Result {
	fail := func(err error) Result {
		return Result{Token: t, Reason: reason(t, err), err: err}
	}

	if !t.IsActive {
		if t.Exhausted() {
			return fail(ErrTokenExhausted)
		}
		return fail(ErrTokenInactive)
	}
	if t.Exhausted() {
		return fail(ErrTokenExhausted)
	}
	if err := t.Policy.window(now); err != nil {
		return fail(err)
	}
	return Result{Valid: true, Token: t}
}

func reason(t *AccessToken, err error) string {
	switch err {
	case ErrTokenInactive:
		return "This share link has been revoked by its owner"
	case ErrTokenExhausted:
		if t.ShareType() == ShareOneTime {
			return "This one-time link has already been used"
		}
		return "This share link has reached its maximum number of views"
	case ErrTokenExpired:
		if exp, ok := t.ExpiresAt(); ok {
			return "This share link expired on " + exp.UTC().Format(time.RFC1123)
		}
		return "This share link has expired"
	case ErrTokenNotYetValid:
		if p, ok := t.Policy.(RangePolicy); ok {
			return "This share link is not valid until " + p.ValidFrom.UTC().Format(time.RFC1123)
		}
		return "This share link is not valid yet"
	}
	return "This share link is not valid"
}

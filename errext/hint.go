package errext

import "errors"

// HasHint is a wrapper around an error with an attached hint for the user,
// like how to fix a configuration mistake.
type HasHint interface {
	error
	Hint() string
}

// WithHint attaches a hint to err. A nil err stays nil. When err already had
// a hint, the result reads "new hint (old hint)".
func WithHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	return withHint{err, hint}
}

type withHint struct {
	error
	hint string
}

func (wh withHint) Unwrap() error {
	return wh.error
}

func (wh withHint) Hint() string {
	var inner HasHint
	if errors.As(wh.error, &inner) {
		return wh.hint + " (" + inner.Hint() + ")"
	}
	return wh.hint
}

var _ HasHint = withHint{}

package expr

import (
	"errors"
	"fmt"
)

// ErrInvalid is the base of every parse and bind error.
var ErrInvalid = errors.New("invalid filter")

// SyntaxError reports a parse failure at a byte offset.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid filter: syntax error at %d: %s", e.Pos, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return ErrInvalid }

func syntaxErr(pos int, format string, args ...any) error {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func bindErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

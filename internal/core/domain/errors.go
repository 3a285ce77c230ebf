package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotFound             = errors.New("not found")
	ErrTemporary            = errors.New("temporary failure")
	ErrConfiguration        = errors.New("configuration error")
	ErrDataLoad             = errors.New("data load error")
	ErrChannelUnavailable   = errors.New("retrieval channel unavailable")
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrRerankFailure        = errors.New("rerank failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

package relevance

import "errors"

var (
	ErrScorerUnavailable = errors.New("similarity scorer unavailable")
	ErrScorerDisabled    = errors.New("similarity scoring disabled")
	ErrScoreMismatch     = errors.New("scorer returned wrong number of scores")
)

package util

import "github.com/rs/zerolog"

// Attempt runs a best-effort cleanup step. A failure is logged at warn and
// swallowed; the return value only tells the caller whether it worked.
func Attempt(log zerolog.Logger, what string, fn func() error) bool {
	if err := fn(); err != nil {
		log.Warn().Err(err).Str("step", what).Msg("cleanup step failed")
		return false
	}
	return true
}

package chat

import "errors"

// Recovered turn conditions. None of them escape HandleTurn as errors; they are reported in
// TurnContext.Condition so clients can tell a failed turn from a normal one without
// scanning the reply text.
var (
	ErrValidation            = errors.New("validation_error")
	ErrAmbiguousIntent       = errors.New("ambiguous_intent")
	ErrSearchUnavailable     = errors.New("search_unavailable")
	ErrInvalidSessionKey     = errors.New("invalid_session_key")
	ErrCompletionUnavailable = errors.New("completion_unavailable")
)

var conditions = []error{
	ErrValidation,
	ErrAmbiguousIntent,
	ErrSearchUnavailable,
	ErrInvalidSessionKey,
	ErrCompletionUnavailable,
}

// Condition returns the tag of the recovered condition wrapped by err, or "".
func Condition(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range conditions {
		if errors.Is(err, c) {
			return c.Error()
		}
	}
	return ""
}

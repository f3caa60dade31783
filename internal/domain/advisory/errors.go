package advisory

import "errors"

// Sentinel kinds for advisory errors.
var (
	ErrInvalidKnowledgeBase = errors.New("invalid knowledge base")
)

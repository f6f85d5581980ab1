package core

import "strings"

// creditAuthorizationPhrases must appear verbatim (case-insensitive) in the
// latest user message for paid integrations to be allowed on that turn.
var creditAuthorizationPhrases = []string{
	"autorizo uso de créditos",
	"autorizo o uso de créditos",
	"autorizo uso de creditos",
	"autorizo o uso de creditos",
	"pode gastar créditos",
	"pode gastar creditos",
	"pode usar meus créditos",
	"pode usar meus creditos",
	"autorizo gastar créditos",
}

// IsCreditAuthorized reports whether text grants consent to spend credits.
// It is a consent nicety, not an access control.
func IsCreditAuthorized(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range creditAuthorizationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

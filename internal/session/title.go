// ABOUTME: Chat title derivation from the first research query
// ABOUTME: Titles are capped at MaxTitleRunes characters with an ellipsis

package session

// MaxTitleRunes is the longest derived title kept verbatim.
const MaxTitleRunes = 50

// titleEllipsis marks a title cut at MaxTitleRunes.
const titleEllipsis = "..."

// DeriveTitle turns a query into a chat title. Queries of at most
// MaxTitleRunes characters are returned unchanged; longer ones are cut to
// that many characters and suffixed with "...".
func DeriveTitle(query string) string {
	runes := []rune(query)
	if len(runes) <= MaxTitleRunes {
		return query
	}
	return string(runes[:MaxTitleRunes]) + titleEllipsis
}

package memory

// #region stopwords

// stopwords are dropped from search queries; they match nearly every record.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "be": true, "been": true,
	"will": true, "would": true, "could": true, "should": true, "can": true,
	"not": true, "and": true, "or": true, "but": true, "if": true,
	"then": true, "so": true, "as": true, "at": true, "by": true,
	"for": true, "from": true, "in": true, "into": true, "of": true,
	"on": true, "to": true, "with": true, "about": true, "it": true,
	"its": true, "this": true, "that": true, "what": true, "which": true,
}

// queryTerms tokenizes a search query into unique terms, minus stopwords.
func queryTerms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, t := range tokenize(query) {
		if stopwords[t] || seen[t] {
			continue
		}
		seen[t] = true
		terms = append(terms, t)
	}
	return terms
}

// #endregion stopwords

package news

import "strings"

// sourceCredibility maps known outlets to a base credibility score. Official
// and government sources rank highest, satire lowest.
var sourceCredibility = map[string]float64{
	// wire services & official
	"reuters.com":        0.95,
	"apnews.com":         0.95,
	"bloomberg.com":      0.9,
	"ft.com":             0.9,
	"wsj.com":            0.85,
	"bbc.com":            0.85,
	"bbc.co.uk":          0.85,
	"nytimes.com":        0.8,
	"washingtonpost.com": 0.8,
	"economist.com":      0.85,
	"cnbc.com":           0.75,
	"cnn.com":            0.7,
	"politico.com":       0.75,
	"axios.com":          0.75,
	"theguardian.com":    0.75,

	// aggregators & commentary
	"yahoo.com":           0.6,
	"businessinsider.com": 0.55,
	"substack.com":        0.4,
	"medium.com":          0.35,
	"reddit.com":          0.3,

	// satire
	"theonion.com":    0.05,
	"babylonbee.com":  0.05,
	"dailymash.co.uk": 0.05,
}

// tldCredibility provides defaults for unknown sources keyed by their
// top-level domain.
var tldCredibility = map[string]float64{
	"gov": 0.95,
	"edu": 0.8,
	"org": 0.6,
	"com": 0.5,
	"net": 0.45,
	"io":  0.4,
}

const unknownSourceCredibility = 0.35

// SourceCredibility returns the credibility score for a source host. Unknown
// hosts default by top-level domain, then to a conservative floor.
func SourceCredibility(host string) float64 {
	host = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(host), "www."))
	if score, ok := sourceCredibility[host]; ok {
		return score
	}
	// Walk up subdomains: news.example.com -> example.com.
	parts := strings.Split(host, ".")
	for i := 1; i < len(parts)-1; i++ {
		if score, ok := sourceCredibility[strings.Join(parts[i:], ".")]; ok {
			return score
		}
	}
	if len(parts) > 1 {
		if score, ok := tldCredibility[parts[len(parts)-1]]; ok {
			return score
		}
	}
	return unknownSourceCredibility
}

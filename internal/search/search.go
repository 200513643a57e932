package search

// Mode selects which search arms run.
type Mode string

const (
	ModeHybrid   Mode = "hybrid"
	ModeSemantic Mode = "semantic"
	ModeLexical  Mode = "lexical"
)

// ParseMode normalizes a query-string mode; hybrid is the default.
func ParseMode(raw string) Mode {
	switch Mode(raw) {
	case ModeSemantic, ModeLexical, ModeHybrid:
		return Mode(raw)
	default:
		return ModeHybrid
	}
}

// Result is a single search hit returned to the caller. Hits are
// per-document; the semantic arm collapses chunk matches onto their
// document.
type Result struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Snippet      string  `json:"snippet"`
	Jurisdiction string  `json:"jurisdiction,omitempty"`
	DocType      string  `json:"docType,omitempty"`
	Status       string  `json:"status,omitempty"`
	Score        float64 `json:"score"`
}

// Query describes a search request. AccountID empty means platform-wide
// (super admin only).
type Query struct {
	Text         string
	Mode         Mode
	AccountID    string
	Jurisdiction string
	DocType      string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Mode    Mode     `json:"mode"`
}

// DocumentRecord is the data pushed into the lexical index.
type DocumentRecord struct {
	ID           string `json:"id"`
	AccountID    string `json:"accountId"`
	Title        string `json:"title"`
	Summary      string `json:"summary"`
	Citation     string `json:"citation"`
	Body         string `json:"body"`
	Jurisdiction string `json:"jurisdiction"`
	DocType      string `json:"docType"`
	Status       string `json:"status"`
}

// Searcher can execute a lexical search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

package models

type SearchStrategy string

const (
	StrategyBestSellers SearchStrategy = "best_sellers"
	StrategyKeyword     SearchStrategy = "keyword"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

type SearchQuery struct {
	Keywords string         `json:"keywords"`
	Strategy SearchStrategy `json:"strategy"`
	Limit    int            `json:"limit"`
}

// Normalized fills defaults and clamps the limit.
func (q SearchQuery) Normalized() SearchQuery {
	if q.Strategy == "" {
		if q.Keywords != "" {
			q.Strategy = StrategyKeyword
		} else {
			q.Strategy = StrategyBestSellers
		}
	}
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	if q.Limit > MaxSearchLimit {
		q.Limit = MaxSearchLimit
	}
	return q
}

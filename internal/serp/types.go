package serp

import "encoding/json"

// TaskRequest is one keyword/location query posted to task_post.
type TaskRequest struct {
	Keyword            string `json:"keyword"`
	LocationCoordinate string `json:"location_coordinate"`
	LanguageCode       string `json:"language_code"`
	Device             string `json:"device"`
	OS                 string `json:"os"`
	Depth              int    `json:"depth"`
}

// Ranking is one organic result whose URL belongs to the target domain.
type Ranking struct {
	Rank int    `json:"rank"`
	URL  string `json:"url"`
}

// Result is the outcome of a task_get call. Ready is false while the provider
// is still working on the task; Rankings is empty when the task finished
// without a match.
type Result struct {
	Rankings []Ranking
	Ready    bool
	Raw      json.RawMessage
}

// Best returns the ranking with the lowest rank. Ties keep the first
// occurrence. ok is false when there are no rankings.
func (r Result) Best() (best Ranking, ok bool) {
	for i, rk := range r.Rankings {
		if i == 0 || rk.Rank < best.Rank {
			best = rk
		}
	}
	return best, len(r.Rankings) > 0
}

// UserData is the account summary returned by the appendix endpoint.
type UserData struct {
	Login   string  `json:"login"`
	Balance float64 `json:"balance"`
}

// envelope is the common response wrapper of every v3 endpoint.
type envelope struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
	Tasks         []task `json:"tasks"`
}

type task struct {
	ID            string            `json:"id"`
	StatusCode    int               `json:"status_code"`
	StatusMessage string            `json:"status_message"`
	Result        []json.RawMessage `json:"result"`
}

type serpResult struct {
	Keyword string     `json:"keyword"`
	Items   []serpItem `json:"items"`
}

type serpItem struct {
	Type      string `json:"type"`
	RankGroup int    `json:"rank_group"`
	URL       string `json:"url"`
}

type userDataResult struct {
	Login string `json:"login"`
	Money struct {
		Balance float64 `json:"balance"`
	} `json:"money"`
}

// Provider status codes.
const (
	statusOK          = 20000
	statusTaskCreated = 20100
	statusTaskHanded  = 40601
	statusTaskInQueue = 40602
)

package api

// Queue is the server's reading queue for the authenticated user.
type Queue struct {
	Count int         `json:"count"`
	Items []QueueItem `json:"items"`
}

// QueueItem is one readable item in the queue.
//
// Progress comes in two dialects: newer servers send progress_percent /
// furthest_percent, older ones send resume_read_percent /
// last_read_percent. The accessors below prefer the newer fields and fall
// back to the legacy ones.
type QueueItem struct {
	ItemID                 int    `json:"item_id"`
	Title                  string `json:"title,omitempty"`
	URL                    string `json:"url"`
	Host                   string `json:"host,omitempty"`
	Status                 string `json:"status,omitempty"`
	ActiveContentVersionID *int   `json:"active_content_version_id,omitempty"`
	StrategyUsed           string `json:"strategy_used,omitempty"`
	WordCount              *int   `json:"word_count,omitempty"`
	LastOpenedAt           string `json:"last_opened_at,omitempty"`
	CreatedAt              string `json:"created_at,omitempty"`

	ResumeReadPercent  *int `json:"resume_read_percent,omitempty"`
	LastReadPercent    *int `json:"last_read_percent,omitempty"`
	RawProgressPercent *int `json:"progress_percent,omitempty"`
	RawFurthestPercent *int `json:"furthest_percent,omitempty"`
}

// FurthestPercent returns the furthest progress the server has recorded
// for this item, in [0, 100].
func (i QueueItem) FurthestPercent() int {
	v := 0
	switch {
	case i.RawFurthestPercent != nil:
		v = *i.RawFurthestPercent
	case i.LastReadPercent != nil:
		v = *i.LastReadPercent
	}
	return clampPercent(v)
}

// ProgressPercent returns the resume position percent, never beyond the
// furthest recorded progress.
func (i QueueItem) ProgressPercent() int {
	v := 0
	switch {
	case i.RawProgressPercent != nil:
		v = *i.RawProgressPercent
	case i.ResumeReadPercent != nil:
		v = *i.ResumeReadPercent
	}
	v = clampPercent(v)
	if furthest := i.FurthestPercent(); v > furthest {
		return furthest
	}
	return v
}

// TextChunk is a server-provided chunk boundary within an item's text.
type TextChunk struct {
	Index     int    `json:"index"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	Text      string `json:"text"`
}

// ItemText is the full readable payload for one item.
type ItemText struct {
	ItemID                 int         `json:"item_id"`
	Title                  string      `json:"title,omitempty"`
	URL                    string      `json:"url"`
	Host                   string      `json:"host,omitempty"`
	Status                 string      `json:"status,omitempty"`
	ActiveContentVersionID *int        `json:"active_content_version_id,omitempty"`
	StrategyUsed           string      `json:"strategy_used,omitempty"`
	WordCount              *int        `json:"word_count,omitempty"`
	TotalChars             int         `json:"total_chars,omitempty"`
	Text                   string      `json:"text"`
	Paragraphs             []string    `json:"paragraphs,omitempty"`
	Chunks                 []TextChunk `json:"chunks,omitempty"`
}

// progressPayload is the body of a progress post.
type progressPayload struct {
	Percent int    `json:"percent"`
	Source  string `json:"source,omitempty"`
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

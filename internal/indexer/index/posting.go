package index

type Posting struct {
	DocID     string `json:"doc_id"`
	Frequency int    `json:"frequency"`
	Positions []int  `json:"positions"`
}

type PostingList []Posting

// Stats summarises a built index.
type Stats struct {
	Docs   int `json:"docs"`
	Fields int `json:"fields"`
	Terms  int `json:"terms"`
}

package model

// DuplicatePair links an extracted variable to the declared variable it
// restates under another name.
type DuplicatePair struct {
	Original   string  `json:"original"`
	Duplicate  string  `json:"duplicate"`
	Confidence float64 `json:"confidence"`
}

type DeduplicationResult struct {
	Duplicates []DuplicatePair `json:"duplicates"`
}

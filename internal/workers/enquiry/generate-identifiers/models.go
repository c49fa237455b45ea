package generateidentifiers

type Input struct {
	SessionID    string `json:"sessionId"`
	IndentNumber string `json:"indentNumber,omitempty"`
}

// Output is merged into the process variables. When the caller supplied an
// indent number it is echoed back; otherwise IndentNumber is a fresh AAP number.
type Output struct {
	SessionID              string `json:"sessionId"`
	CandidateEnquiryNumber string `json:"candidateEnquiryNumber"`
	IndentNumber           string `json:"indentNumber"`
	IndentFound            bool   `json:"indentFound"`
	Post                   string `json:"post,omitempty"`
	Department             string `json:"department,omitempty"`
}

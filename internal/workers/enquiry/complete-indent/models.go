package completeindent

type Input struct {
	IndentNumber string `json:"indentNumber"`
}

type PatchResult struct {
	Column string `json:"column"`
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

type Output struct {
	IndentNumber  string        `json:"indentNumber"`
	IndentPatched bool          `json:"indentPatched"`
	IndentRow     int           `json:"indentRow"`
	Patches       []PatchResult `json:"patches"`
}

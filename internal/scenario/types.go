package scenario

// Case is one decision assertion within a scenario.
type Case struct {
	User      string `yaml:"user"`
	Workspace string `yaml:"workspace"`
	Agent     string `yaml:"agent,omitempty"`
	Operation string `yaml:"operation,omitempty"`
	Expect    string `yaml:"expect"`
	Reason    string `yaml:"reason,omitempty"`
}

// Scenario is a named collection of decision assertions evaluated against
// one directory snapshot.
type Scenario struct {
	Name     string `yaml:"name"`
	Snapshot string `yaml:"snapshot,omitempty"`
	Cases    []Case `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one assertion.
type CaseResult struct {
	Index     int    `json:"index"`
	Passed    bool   `json:"passed"`
	User      string `json:"user"`
	Workspace string `json:"workspace"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
	Reason    string `json:"reason"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}

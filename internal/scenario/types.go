package scenario

// Case is one conversation under test. Input is the first turn; each
// answer is submitted as a further turn while the workflow needs more info.
type Case struct {
	Input   string   `yaml:"input"`
	Answers []string `yaml:"answers,omitempty"`
	Mode    string   `yaml:"mode,omitempty"`
	Expect  string   `yaml:"expect"`
	// Questions, when set, is the expected question count of the final turn.
	Questions *int `yaml:"questions,omitempty"`
	// Results maps dotted paths (patient.patient_id, slots.0.slot_id) to
	// expected values, looked up in results or completed_results.
	Results     map[string]string `yaml:"results,omitempty"`
	FailureStep string            `yaml:"failure_step,omitempty"`
	FailureKind string            `yaml:"failure_kind,omitempty"`
}

// Scenario is a named collection of workflow test cases.
type Scenario struct {
	Name string `yaml:"name"`
	// Mode is the default for cases that set none. Empty falls back to the
	// configured mode.
	Mode string `yaml:"mode,omitempty"`
	// Today pins the date clock (YYYY-MM-DD) so relative dates are stable.
	Today    string   `yaml:"today,omitempty"`
	Patients []string `yaml:"patients,omitempty"`
	Cases    []Case   `yaml:"cases"`
}

// CaseResult is the outcome of evaluating one test case.
type CaseResult struct {
	Index    int    `json:"index"`
	Passed   bool   `json:"passed"`
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Detail   string `json:"detail,omitempty"`
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

package llm

// ModelList is the result of a model listing. Fallback is set when Models is a
// built-in list served because the live listing failed; Err then carries the
// reason, if there was one.
type ModelList struct {
	Models   []string `json:"models"`
	Fallback bool     `json:"fallback"`
	Err      error    `json:"-"`
}

func fallback(models []string, err error) ModelList {
	return ModelList{
		Models:   append([]string(nil), models...),
		Fallback: true,
		Err:      err,
	}
}

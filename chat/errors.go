package chat

import (
	"fmt"
)

// Step names a stage of a chat turn
type Step string

const (
	StepPersistUserMessage      Step = "persisting_user_message"
	StepCallProvider            Step = "calling_provider"
	StepPersistAssistantMessage Step = "persisting_assistant_message"
)

// StepError reports which stage of a chat turn failed. Err is the typed
// cause (storage, auth, provider, unsupported provider).
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("chat turn failed while %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepError(step Step, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

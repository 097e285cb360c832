package quality

import "marketflow/pkg/models"

// Outcome is the result of evaluating one check: exactly one of passed,
// failed or errored.
type Outcome struct {
	Status  models.CheckStatus
	Value   int64
	Message string
	Err     error
}

func Passed(value int64, message string) Outcome {
	return Outcome{Status: models.CheckPassed, Value: value, Message: message}
}

func Failed(value int64, message string) Outcome {
	return Outcome{Status: models.CheckFailed, Value: value, Message: message}
}

func Errored(err error) Outcome {
	return Outcome{Status: models.CheckError, Message: err.Error(), Err: err}
}

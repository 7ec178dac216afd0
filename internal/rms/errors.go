package rms

// ViolationError is raised when a pre-trade guardrail rejects a leg.
// Code matches one of the RMS_* error codes in the error envelope.
type ViolationError struct {
	Code    string
	Message string
}

func (e *ViolationError) Error() string { return e.Message }

func newViolation(code, message string) *ViolationError {
	return &ViolationError{Code: code, Message: message}
}

const (
	CodeMaxLots      = "RMS_MAX_LOTS"
	CodeMaxDailyLots = "RMS_MAX_LOTS"
	CodeExposure     = "RMS_EXPOSURE"
	CodeMargin       = "RMS_MARGIN"
	CodeMaxLoss      = "RMS_MAX_LOSS"
)

package core

// Exit codes for sdgen. Signal exits follow the 128 + signal convention.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1

	// ExitCodeUsage is returned for bad flags or arguments.
	ExitCodeUsage = 2

	// ExitCodeModel is returned when a model is missing or fails verification.
	ExitCodeModel = 3

	ExitCodeSIGINT  = 130 // 128 + 2
	ExitCodeSIGTERM = 143 // 128 + 15
)

// ExitCodeName returns a human-readable name for an exit code.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodeUsage:
		return "usage error"
	case ExitCodeModel:
		return "model error"
	case ExitCodeSIGINT:
		return "interrupted (SIGINT)"
	case ExitCodeSIGTERM:
		return "terminated (SIGTERM)"
	default:
		return "unknown"
	}
}

// IsSignalExit returns true if the exit code indicates a signal-based termination.
func IsSignalExit(code int) bool {
	return code == ExitCodeSIGINT || code == ExitCodeSIGTERM
}

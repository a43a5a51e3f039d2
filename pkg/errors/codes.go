package errors

// HTTP status codes for different error types
const (
	StatusValidationError     = 400
	StatusNotFoundError       = 404
	StatusConflictError       = 409
	StatusUnauthorizedError   = 401
	StatusForbiddenError      = 403
	StatusInternalError       = 500
	StatusBadRequestError     = 400
	StatusServiceUnavailable  = 503
	StatusNotImplementedError = 501
	StatusRateLimitError      = 429
	StatusAIProviderError     = 502
)

// Business error codes for the kamsentry worker.
const (
	// Stream ingestion (C1)
	CodeStreamConnectFailed = "STREAM_CONNECT_FAILED"
	CodeStreamReadFailed    = "STREAM_READ_FAILED"
	CodeStreamUnavailable   = "STREAM_UNAVAILABLE"

	// Anomaly detector (C2)
	CodeDetectorArtifactNotFound    = "DETECTOR_ARTIFACT_NOT_FOUND"
	CodeDetectorArtifactCorrupt     = "DETECTOR_ARTIFACT_CORRUPT"
	CodeDetectorRetrainFailed       = "DETECTOR_RETRAIN_FAILED"
	CodeDetectorInsufficientSamples = "DETECTOR_INSUFFICIENT_SAMPLES"

	// LLM analysis (C3)
	CodeLLMProviderUnavailable = "LLM_PROVIDER_UNAVAILABLE"
	CodeLLMProviderTimeout     = "LLM_PROVIDER_TIMEOUT"
	CodeLLMResponseUnparsable  = "LLM_RESPONSE_UNPARSABLE"

	// Persistence gateway (C5)
	CodeDBConnectionFailed = "DB_CONNECTION_FAILED"
	CodeDBQueryFailed      = "DB_QUERY_FAILED"
	CodeDBMigrationFailed  = "DB_MIGRATION_FAILED"

	// Configuration
	CodeConfigInvalid         = "CONFIG_INVALID"
	CodeConfigMissingRequired = "CONFIG_MISSING_REQUIRED_FIELD"

	// Validation
	CodeInvalidInput         = "VALIDATION_INVALID_INPUT"
	CodeRequiredFieldMissing = "VALIDATION_REQUIRED_FIELD_MISSING"
	CodeInvalidFormat        = "VALIDATION_INVALID_FORMAT"
	CodeValueOutOfRange      = "VALIDATION_VALUE_OUT_OF_RANGE"
)

// ErrorCodeToMessage maps error codes to human-readable messages.
var ErrorCodeToMessage = map[string]string{
	CodeStreamConnectFailed: "Failed to connect to the event stream",
	CodeStreamReadFailed:    "Failed to read from the event stream",
	CodeStreamUnavailable:   "Event stream is currently unavailable",

	CodeDetectorArtifactNotFound:    "No persisted anomaly detector artifact found",
	CodeDetectorArtifactCorrupt:     "Anomaly detector artifact is corrupt or unreadable",
	CodeDetectorRetrainFailed:       "Anomaly detector retrain failed",
	CodeDetectorInsufficientSamples: "Not enough samples available to retrain the detector",

	CodeLLMProviderUnavailable: "LLM provider is currently unavailable",
	CodeLLMProviderTimeout:     "LLM provider request timed out",
	CodeLLMResponseUnparsable:  "LLM provider returned an unparsable response",

	CodeDBConnectionFailed: "Failed to connect to the database",
	CodeDBQueryFailed:      "Database query failed",
	CodeDBMigrationFailed:  "Database schema migration failed",

	CodeConfigInvalid:         "Configuration is invalid",
	CodeConfigMissingRequired: "A required configuration field is missing",

	CodeInvalidInput:         "Invalid input provided",
	CodeRequiredFieldMissing: "Required field is missing",
	CodeInvalidFormat:        "Invalid format",
	CodeValueOutOfRange:      "Value is out of acceptable range",
}

// GetErrorMessage returns a human-readable message for the given error code.
func GetErrorMessage(code string) string {
	if message, exists := ErrorCodeToMessage[code]; exists {
		return message
	}
	return "An error occurred"
}

// NewErrorWithCode creates a new AppError with a specific error code,
// classifying it into an AppErrorType (and therefore HTTP-style status)
// by code prefix.
func NewErrorWithCode(code string, details string) *AppError {
	message := GetErrorMessage(code)

	var errorType AppErrorType
	switch {
	case code == CodeDetectorArtifactNotFound:
		errorType = NotFoundError
	case code == CodeDetectorInsufficientSamples, code[:10] == "VALIDATION":
		errorType = ValidationError
	case code[:6] == "CONFIG":
		errorType = BadRequestError
	case code[:6] == "STREAM", code[:2] == "DB":
		errorType = ServiceUnavailable
	case code[:3] == "LLM":
		errorType = AIProviderError
	case code[:8] == "DETECTOR":
		errorType = InternalError
	default:
		errorType = InternalError
	}

	return NewAppError(errorType, message, details, nil)
}

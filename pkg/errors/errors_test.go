package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppErrorSetsStatusCodeByType(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, NewNotFoundError("artifact").StatusCode)
	assert.Equal(t, http.StatusBadGateway, NewAIProviderError("down", nil).StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, NewServiceUnavailableError("down").StatusCode)
}

func TestAppErrorUnwrapsWrappedError(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	err := NewInternalError("failed to connect", inner)

	appErr, ok := IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, inner, appErr.Unwrap())
	assert.Contains(t, appErr.Error(), "connection refused")
}

func TestGetStatusCodeFallsBackToInternalForPlainErrors(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(fmt.Errorf("boom")))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NewNotFoundError("alert")))
	assert.False(t, IsNotFound(NewInternalError("oops", nil)))
}

func TestNewErrorWithCodeClassifiesByPrefix(t *testing.T) {
	cases := []struct {
		code     string
		wantType AppErrorType
	}{
		{CodeDetectorArtifactNotFound, NotFoundError},
		{CodeDetectorInsufficientSamples, ValidationError},
		{CodeStreamUnavailable, ServiceUnavailable},
		{CodeLLMProviderTimeout, AIProviderError},
		{CodeConfigInvalid, BadRequestError},
	}
	for _, tc := range cases {
		err := NewErrorWithCode(tc.code, "detail")
		assert.Equal(t, tc.wantType, err.Type, tc.code)
		assert.Equal(t, "detail", err.Details)
	}
}

func TestGetErrorMessageFallsBackForUnknownCode(t *testing.T) {
	assert.Equal(t, "An error occurred", GetErrorMessage("NOT_A_REAL_CODE"))
}

func TestIsDatabaseUniqueViolationMatchesPostgresErrorText(t *testing.T) {
	assert.True(t, IsDatabaseUniqueViolation(fmt.Errorf("ERROR: duplicate key value violates unique constraint")))
	assert.False(t, IsDatabaseUniqueViolation(fmt.Errorf("connection reset")))
	assert.False(t, IsDatabaseUniqueViolation(nil))
}

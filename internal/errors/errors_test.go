package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeTransport, cause, "请求知识库失败", WithMetadata("endpoint", "/knowledge-bases"))

	assert.Equal(t, "[TRANSPORT] 请求知识库失败: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.Retryable())
	assert.Equal(t, "/knowledge-bases", err.Metadata()["endpoint"])
}

func TestIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeTimeout, "knowledge base not ready")
	wrapped := fmt.Errorf("setup: %w", New(CodeTimeout, "另一个超时"))

	assert.ErrorIs(t, wrapped, sentinel)
	assert.NotErrorIs(t, wrapped, New(CodeTransport, ""))
}

func TestCodeOfAndHTTPStatus(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeValidation, "file too large"))

	assert.Equal(t, CodeValidation, CodeOf(err))
	assert.True(t, HasCode(err, CodeValidation))
	assert.Equal(t, 400, HTTPStatusOf(err))
	assert.Equal(t, CodeUnknown, CodeOf(stdErrors.New("plain")))
	assert.Equal(t, 500, HTTPStatusOf(stdErrors.New("plain")))
}

func TestDefaultMessageAndOverrides(t *testing.T) {
	err := New(CodeDataShape, "", WithRetryable(true), WithAlert(true), WithSeverity(SeverityCritical))

	require.Equal(t, "unexpected data shape", err.Message())
	assert.True(t, err.Retryable())
	assert.True(t, err.ShouldAlert())
	assert.Equal(t, SeverityCritical, err.Severity())
}

func TestRegisterCustomCode(t *testing.T) {
	code := Code("TEST_CUSTOM")
	Register(code, Attributes{Message: "custom", Severity: SeverityWarning, Retryable: true, HTTPStatus: 409})

	err := New(code, "")
	assert.Equal(t, "custom", err.Message())
	assert.True(t, RetryableError(err))
	assert.Equal(t, 409, HTTPStatusOf(err))
	assert.Equal(t, SeverityWarning, SeverityOf(err))
}

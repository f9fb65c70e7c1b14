package entity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code   ErrorCode
		status int
	}{
		{CodeInvalidInput, 400},
		{CodeServerMisconfigured, 500},
		{CodeBadLLMOutput, 502},
		{CodeBadRequest, 502},
		{CodeAuthError, 401},
		{CodeRateLimit, 429},
		{CodeModelLoading, 503},
		{CodeUpstreamError, 503},
		{CodeTimeout, 504},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, NewError(tc.code, "x").HTTPStatus(), "code %s", tc.code)
	}
}

func TestErrorStatusOverride(t *testing.T) {
	err := NewError(CodeAuthError, "forbidden").WithStatus(403)
	assert.Equal(t, 403, err.HTTPStatus())
}

func TestIsCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("pipeline: %w", NewError(CodeRateLimit, "slow down"))
	assert.True(t, IsCode(err, CodeRateLimit))
	assert.False(t, IsCode(err, CodeTimeout))
	assert.False(t, IsCode(fmt.Errorf("plain"), CodeRateLimit))
}

func TestErrorDetails(t *testing.T) {
	err := NewError(CodeUpstreamError, "boom").
		WithDetail("llm_status", 500).
		WithDetail("llm_message", "server exploded")
	assert.Equal(t, 500, err.Details["llm_status"])
	assert.Equal(t, "server exploded", err.Details["llm_message"])
	assert.Equal(t, "UPSTREAM_ERROR: boom", err.Error())
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	assert.NoError(t, ValidateAPIKey("sk-abc123", "openai"))
	assert.Error(t, ValidateAPIKey("", "openai"))
	assert.Error(t, ValidateAPIKey("abc123", "openai"))
	assert.NoError(t, ValidateAPIKey("whatever", "other"))
}

func TestValidateCronSchedule(t *testing.T) {
	assert.NoError(t, ValidateCronSchedule("*/30 * * * *"))
	assert.NoError(t, ValidateCronSchedule("0 3 * * 1"))
	assert.Error(t, ValidateCronSchedule(""))
	assert.Error(t, ValidateCronSchedule("* * * *"))
	assert.Error(t, ValidateCronSchedule("61 * * * *"))
}

func TestValidateLogLevel(t *testing.T) {
	for _, level := range []string{"trace", "debug", "info", "warn", "error", "fatal", "panic"} {
		assert.NoError(t, ValidateLogLevel(level))
	}
	assert.Error(t, ValidateLogLevel("verbose"))
	assert.Error(t, ValidateLogLevel(""))
}

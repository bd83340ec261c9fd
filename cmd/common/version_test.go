package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetFullVersion(t *testing.T) {
	assert.Equal(t, "1.0.0-dev (unknown)", GetFullVersion())
	assert.Equal(t, ProjectRepo, GetVersionInfo().Repository)
}

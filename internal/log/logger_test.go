package log

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestIsDebugEnabledTracksLevel(t *testing.T) {
	logger := New()
	logger.SetLevel(logrus.InfoLevel)
	assert.False(t, logger.IsDebugEnabled())

	logger.SetLevel(logrus.DebugLevel)
	assert.True(t, logger.IsDebugEnabled())
}

package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggingBeforeInitDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Info("info")
		Infof("infof %d", 1)
		Warnf("warnf %s", "x")
		Error("error", assert.AnError)
		Debugf("debugf")
		Sync()
	})
}

func TestInitReplacesLogger(t *testing.T) {
	Init("debug", "console", "")
	assert.NotPanics(t, func() {
		Infof("after init %d", 1)
	})
}

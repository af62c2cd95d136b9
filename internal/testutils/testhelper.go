package testutils

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a suppressed logger.
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{
		T:      t,
		Logger: NewQuietLogger(),
	}
}

// NewQuietLogger returns a logger that discards output but still evaluates
// every entry at debug level, so logging code paths are exercised.
func NewQuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

// CreateMockGateway returns a builder for a mocked gateway GATT client.
func CreateMockGateway() *GatewayClientBuilder {
	return NewGatewayClientBuilder()
}

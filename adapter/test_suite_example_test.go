package adapter_test

import (
	"testing"

	"github.com/marshallshelly/beaconauth-plugin/adapter"
	"github.com/marshallshelly/beaconauth-plugin/adapters/memory"
	"github.com/marshallshelly/beaconauth-plugin/core"
)

func TestMemoryAdapterWithTestSuite(t *testing.T) {
	suite := &adapter.TestSuite{
		Adapter: memory.New(),
		TeardownFunc: func(t *testing.T, a core.Adapter) {
			// Close clears all data
			a.Close()
		},
	}

	suite.RunAll(t)
}

func TestMemoryAdapterIndividualTests(t *testing.T) {
	suite := &adapter.TestSuite{
		Adapter: memory.New(),
	}

	t.Run("Keys", suite.TestKeys)
	t.Run("Sessions", suite.TestSessions)
}

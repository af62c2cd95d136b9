package link

import (
	"errors"
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/suite"
)

type DiscoveryTestSuite struct {
	suite.Suite
}

func (suite *DiscoveryTestSuite) TestResolvesInOnePage() {
	// GOAL: Verify a single characteristic page with both targets resolves the handle set
	//
	// TEST SCENARIO: Service found → page lists control and body → resolved, no follow-up

	d := NewDiscovery(true)
	suite.Equal(DiscoverServices{UUID: ServiceUUID}, d.Begin(), "discovery MUST start with the gateway service")

	req, err := d.OnServices(ServicesFound{Ranges: []HandleRange{{Start: 0x20, End: 0x27}}})
	suite.Require().NoError(err)
	suite.Equal(HandleRange{Start: 0x20, End: 0x27}, req.Range)

	var h HandleSet
	next, err := d.OnChars(CharsFound{Chars: []CharEntry{
		{UUID: PlainControlUUID, Handle: 0x21, ValueHandle: 0x22},
		{UUID: SecureControlUUID, Handle: 0x23, ValueHandle: 0x24},
		{UUID: BodyUUID, Handle: 0x25, ValueHandle: 0x26},
	}}, &h)
	suite.Require().NoError(err)
	suite.Nil(next, "resolved discovery MUST NOT ask for more")
	suite.Equal(HandleSet{Control: 0x24, Body: 0x26, NotifyConfig: 0x27}, h,
		"secure transfer MUST pick the secure control characteristic and derive the CCCD")
}

func (suite *DiscoveryTestSuite) TestPlainModePicksPlainControl() {
	d := NewDiscovery(false)
	d.Begin()
	_, err := d.OnServices(ServicesFound{Ranges: []HandleRange{{Start: 0x20, End: 0x27}}})
	suite.Require().NoError(err)

	var h HandleSet
	_, err = d.OnChars(CharsFound{Chars: []CharEntry{
		{UUID: PlainControlUUID, Handle: 0x21, ValueHandle: 0x22},
		{UUID: SecureControlUUID, Handle: 0x23, ValueHandle: 0x24},
		{UUID: BodyUUID, Handle: 0x25, ValueHandle: 0x26},
	}}, &h)
	suite.Require().NoError(err)
	suite.Equal(uint16(0x22), h.Control, "plain transfer MUST pick the plain control characteristic")
}

func (suite *DiscoveryTestSuite) TestContinuationWindow() {
	// GOAL: Verify an incomplete page continues from the last handle seen
	//
	// TEST SCENARIO: Page ends at value handle 0x24 → next request covers [0x25, 0x2F]

	d := NewDiscovery(true)
	d.Begin()
	_, err := d.OnServices(ServicesFound{Ranges: []HandleRange{{Start: 0x20, End: 0x40}}})
	suite.Require().NoError(err)

	var h HandleSet
	next, err := d.OnChars(CharsFound{Chars: []CharEntry{
		{UUID: SecureControlUUID, Handle: 0x23, ValueHandle: 0x24},
	}}, &h)
	suite.Require().NoError(err)
	suite.Require().NotNil(next)
	suite.Equal(HandleRange{Start: 0x25, End: 0x25 + DiscoveryWindow - 1}, next.Range,
		"continuation MUST start right after the last handle")

	next, err = d.OnChars(CharsFound{Chars: []CharEntry{
		{UUID: BodyUUID, Handle: 0x25, ValueHandle: 0x26},
	}}, &h)
	suite.Require().NoError(err)
	suite.Nil(next)
	suite.True(h.Resolved())
}

func (suite *DiscoveryTestSuite) TestFailures() {
	// GOAL: Verify every dead end surfaces as DiscoveryFailed
	//
	// TEST SCENARIO: Bad status, missing service, empty page, handle space end → error

	suite.Run("service status", func() {
		d := NewDiscovery(false)
		_, err := d.OnServices(ServicesFound{Status: ble.ErrAttrNotFound})
		suite.True(errors.Is(err, ErrDiscoveryFailed), "non-success status MUST fail discovery")
	})

	suite.Run("service missing", func() {
		d := NewDiscovery(false)
		_, err := d.OnServices(ServicesFound{})
		suite.True(errors.Is(err, ErrDiscoveryFailed), "no service MUST fail discovery")
	})

	suite.Run("empty page", func() {
		d := NewDiscovery(false)
		_, err := d.OnServices(ServicesFound{Ranges: []HandleRange{{Start: 1, End: 10}}})
		suite.Require().NoError(err)
		var h HandleSet
		_, err = d.OnChars(CharsFound{}, &h)
		suite.True(errors.Is(err, ErrDiscoveryFailed), "empty page MUST fail discovery")
	})

	suite.Run("handle space exhausted", func() {
		d := NewDiscovery(false)
		_, err := d.OnServices(ServicesFound{Ranges: []HandleRange{{Start: 0xFFF0, End: 0xFFFF}}})
		suite.Require().NoError(err)
		var h HandleSet
		_, err = d.OnChars(CharsFound{Chars: []CharEntry{
			{UUID: BodyUUID, Handle: 0xFFFE, ValueHandle: 0xFFFF},
		}}, &h)
		suite.True(errors.Is(err, ErrDiscoveryFailed), "no handles past 0xFFFF MUST fail discovery")
	})

	suite.Run("no forward progress", func() {
		d := NewDiscovery(false)
		_, err := d.OnServices(ServicesFound{Ranges: []HandleRange{{Start: 0x30, End: 0x40}}})
		suite.Require().NoError(err)
		var h HandleSet
		_, err = d.OnChars(CharsFound{Chars: []CharEntry{
			{UUID: ble.UUID16(0x2A00), Handle: 0x10, ValueHandle: 0x11},
		}}, &h)
		suite.True(errors.Is(err, ErrDiscoveryFailed), "entries behind the window MUST fail discovery")
	})
}

func TestDiscoveryTestSuite(t *testing.T) {
	suite.Run(t, new(DiscoveryTestSuite))
}

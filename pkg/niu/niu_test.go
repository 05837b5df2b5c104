package niu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isobusgo/isostack/pkg/frame"
	"github.com/isobusgo/isostack/pkg/network"
)

// testResolver satisfies Resolver without ever matching a NAME-based
// rule, sufficient for PGN-only filter tests.
type testResolver struct{}

func (testResolver) ResolveAddress(name network.NAME) (uint8, bool) { return 0, false }

func dm1Frame(source uint8) frame.Frame {
	f, err := frame.FromMessage(6, 0xFECA, source, frame.BroadcastAddress, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	if err != nil {
		panic(err)
	}
	return f
}

func newTestNIU(mode FilterMode) (*NIU, *[]frame.Frame, *[]frame.Frame) {
	var toTractor, toImplement []frame.Frame
	n := New(mode, testResolver{}, func(f frame.Frame) error {
		toTractor = append(toTractor, f)
		return nil
	}, func(f frame.Frame) error {
		toImplement = append(toImplement, f)
		return nil
	})
	return n, &toTractor, &toImplement
}

func TestBidirectionalBlockRuleBlocksBothDirections(t *testing.T) {
	n, _, _ := newTestNIU(PassAll)
	n.AddFilter(FilterRule{PGN: 0xFECA, Policy: Block, Bidirectional: true})

	n.ProcessFrame(dm1Frame(0x10), TractorSide)
	n.ProcessFrame(dm1Frame(0x20), ImplementSide)

	forwarded, blocked := n.Stats()
	assert.EqualValues(t, 0, forwarded)
	assert.EqualValues(t, 2, blocked)
}

func TestPassAllDefaultForwardsUnmatchedFrames(t *testing.T) {
	n, _, toImplement := newTestNIU(PassAll)
	n.ProcessFrame(dm1Frame(0x10), TractorSide)

	forwarded, blocked := n.Stats()
	assert.EqualValues(t, 1, forwarded)
	assert.EqualValues(t, 0, blocked)
	assert.Len(t, *toImplement, 1)
}

func TestBlockAllDefaultDropsUnmatchedFrames(t *testing.T) {
	n, _, _ := newTestNIU(BlockAll)
	n.ProcessFrame(dm1Frame(0x10), TractorSide)

	_, blocked := n.Stats()
	assert.EqualValues(t, 1, blocked)
}

func TestUnidirectionalRuleOnlyAppliesTractorToImplement(t *testing.T) {
	n, _, _ := newTestNIU(PassAll)
	n.AddFilter(FilterRule{PGN: 0xFECA, Policy: Block, Bidirectional: false})

	n.ProcessFrame(dm1Frame(0x10), TractorSide)
	n.ProcessFrame(dm1Frame(0x20), ImplementSide)

	forwarded, blocked := n.Stats()
	assert.EqualValues(t, 1, forwarded) // implement->tractor direction falls through to PassAll
	assert.EqualValues(t, 1, blocked)
}

func TestRateLimitedRuleBlocksWithinMinInterval(t *testing.T) {
	n, _, _ := newTestNIU(PassAll)
	n.AddFilter(FilterRule{PGN: 0xFECA, Policy: Allow, Bidirectional: true, MinInterval: 100 * time.Millisecond})

	n.ProcessFrame(dm1Frame(0x10), TractorSide)
	n.ProcessFrame(dm1Frame(0x10), TractorSide) // immediate repeat, rate-limited

	n.Update(150 * time.Millisecond)
	n.ProcessFrame(dm1Frame(0x10), TractorSide) // past the interval, allowed again

	forwarded, blocked := n.Stats()
	assert.EqualValues(t, 2, forwarded)
	assert.EqualValues(t, 1, blocked)
}

func TestMonitorPolicyForwardsAndEmitsEvent(t *testing.T) {
	n, _, toImplement := newTestNIU(PassAll)
	n.AddFilter(FilterRule{PGN: 0xFECA, Policy: Monitor, Bidirectional: true})

	var events []MonitorEvent
	n.OnMonitor(func(e MonitorEvent) { events = append(events, e) })

	n.ProcessFrame(dm1Frame(0x10), TractorSide)

	assert.Len(t, *toImplement, 1)
	require.Len(t, events, 1)
	assert.Equal(t, TractorSide, events[0].Origin)
}

func TestPersistentFiltersRoundTripThroughFile(t *testing.T) {
	n, _, _ := newTestNIU(PassAll)
	n.AddFilter(FilterRule{PGN: 0xFECA, Policy: Block, Bidirectional: true, Persistent: true})
	n.AddFilter(FilterRule{PGN: 0xFEE0, Policy: Allow, Persistent: false})

	path := t.TempDir() + "/filters.bin"
	require.NoError(t, n.SavePersistent(path))

	loaded, _, _ := newTestNIU(PassAll)
	require.NoError(t, loaded.LoadPersistent(path))

	rules := loaded.Filters()
	require.Len(t, rules, 1) // only the Persistent=true rule was saved
	assert.Equal(t, uint32(0xFECA), rules[0].PGN)
	assert.Equal(t, Block, rules[0].Policy)
}

func TestRepeaterForwardsEverythingByDefault(t *testing.T) {
	var delivered []frame.Frame
	r := NewRepeater(testResolver{}, func(f frame.Frame) error { return nil }, func(f frame.Frame) error {
		delivered = append(delivered, f)
		return nil
	})
	r.ProcessFrame(dm1Frame(0x10), TractorSide)
	assert.Len(t, delivered, 1)
}

func TestBridgeLearnsAddressesAndImplicitlyAllowsLearnedDestinations(t *testing.T) {
	var toImplement []frame.Frame
	b := NewBridge(testResolver{}, func(f frame.Frame) error { return nil }, func(f frame.Frame) error {
		toImplement = append(toImplement, f)
		return nil
	})

	// Implement-side node 0x20 speaks first, teaching the bridge its side.
	b.ProcessFrame(dm1Frame(0x20), ImplementSide)

	directed, err := frame.FromMessage(6, 0xEF00, 0x10, 0x20, []byte{1, 2})
	require.NoError(t, err)
	b.ProcessFrame(directed, TractorSide)

	assert.Len(t, toImplement, 1) // destination 0x20 was learned on the implement side, so it's implicitly allowed
}

func TestRouterTranslatesAddressesForKnownName(t *testing.T) {
	var toImplement []frame.Frame
	r := NewRouter(testResolver{}, func(f frame.Frame) error { return nil }, func(f frame.Frame) error {
		toImplement = append(toImplement, f)
		return nil
	})
	r.AddTranslation(0x1122334455667788, 0x10, 0x30)

	r.ProcessFrame(dm1Frame(0x10), TractorSide)

	require.Len(t, toImplement, 1)
	assert.Equal(t, uint8(0x30), toImplement[0].Source())
}

func TestGatewayTransformCanDropFrame(t *testing.T) {
	var delivered int
	g := NewGateway(PassAll, testResolver{}, func(f frame.Frame) error { return nil }, func(f frame.Frame) error {
		delivered++
		return nil
	})
	g.RegisterTransform(0xFECA, func(f frame.Frame, origin Side) (frame.Frame, bool) {
		return f, false
	})

	g.ProcessFrame(dm1Frame(0x10), TractorSide)
	assert.Equal(t, 0, delivered)
}

func TestControllerAddFilterEntryViaControlPGN(t *testing.T) {
	n, _, _ := newTestNIU(PassAll)
	rule := FilterRule{PGN: 0xFECA, Policy: Block, Bidirectional: true}
	enc := rule.Encode()

	payload := append([]byte{cmdAddFilterEntry}, enc[:]...)
	c := &Controller{niu: n}
	c.handle(frame.Message{Payload: payload, Source: 0x10})

	assert.Len(t, n.Filters(), 1)
}

func TestControllerMalformedMessageIsSilentlyDropped(t *testing.T) {
	n, _, _ := newTestNIU(PassAll)
	c := &Controller{niu: n}
	c.handle(frame.Message{Payload: []byte{0x01}}) // 1 byte, below the 2-byte minimum
	assert.Empty(t, n.Filters())
}

func TestSeparateDefaultsForBroadcastAndDestinationSpecific(t *testing.T) {
	n, _, _ := newTestNIU(PassAll)
	n.SetDefaultModes(BlockAll, PassAll)

	// Broadcast DM1 hits the BlockAll broadcast default.
	n.ProcessFrame(dm1Frame(0x10), TractorSide)
	// A destination-specific frame hits the PassAll default.
	df, err := frame.FromMessage(6, 0xC300, 0x10, 0x20, []byte{0, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	n.ProcessFrame(df, TractorSide)

	forwarded, blocked := n.Stats()
	assert.EqualValues(t, 1, forwarded)
	assert.EqualValues(t, 1, blocked)
}

package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeDTCRoundTrip(t *testing.T) {
	d := DTC{SPN: 523506, FMI: 7, OccurrenceCount: 42, ConversionMethod: 1}
	got := DecodeDTC(EncodeDTC(d))
	assert.Equal(t, d, got)
}

func TestEncodeDTCSaturatesOccurrenceCount(t *testing.T) {
	d := DTC{SPN: 100, FMI: 3, OccurrenceCount: 200}
	b := EncodeDTC(d)
	assert.Equal(t, uint8(maxOccurrenceCount), b[3]&0x7F)
}

func TestLampStatusRoundTrip(t *testing.T) {
	l := LampStatus{MalfunctionIndicator: 1, RedStopLamp: 0, AmberWarningLamp: 2, ProtectLamp: 1}
	got := DecodeLampStatus(EncodeLampStatus(l))
	assert.Equal(t, l, got)
}

func TestFreezeFrameDepthEviction(t *testing.T) {
	tab := NewTable(3, false)
	values := []uint32{650, 660, 670, 680, 690}
	for i, v := range values {
		tab.SetActive(412, 16, []SPNValue{{SPN: 412, Value: v}}, uint64(i))
	}

	ff0, ok := tab.FreezeFrame(412, 16, 0)
	assert.True(t, ok)
	assert.Equal(t, uint32(690), ff0.Snapshots[0].Value)

	_, ok = tab.FreezeFrame(412, 16, 2)
	assert.True(t, ok)

	_, ok = tab.FreezeFrame(412, 16, 3)
	assert.False(t, ok)
}

func TestSetActiveIncrementsOccurrenceCount(t *testing.T) {
	tab := NewTable(3, false)
	tab.SetActive(100, 3, nil, 0)
	d := tab.SetActive(100, 3, nil, 1)
	assert.Equal(t, uint8(2), d.OccurrenceCount)
}

func TestClearActiveMovesToPreviouslyActive(t *testing.T) {
	tab := NewTable(3, true)
	tab.SetActive(100, 3, nil, 0)
	ok := tab.ClearActive(100, 3)
	assert.True(t, ok)
	assert.Empty(t, tab.Active())
	prev := tab.PreviouslyActive()
	assert.Len(t, prev, 1)
	assert.Equal(t, uint8(1), prev[0].OccurrenceCount)

	ff, ok := tab.FreezeFrame(100, 3, 0)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), ff.Timestamp)
}

func TestClearAllActive(t *testing.T) {
	tab := NewTable(3, false)
	tab.SetActive(1, 1, nil, 0)
	tab.SetActive(2, 2, nil, 0)
	tab.ClearAllActive()
	assert.Empty(t, tab.Active())
	assert.Len(t, tab.PreviouslyActive(), 2)
}

func TestClearOneFromEitherList(t *testing.T) {
	tab := NewTable(3, false)
	tab.SetActive(1, 1, nil, 0)
	tab.ClearActive(1, 1)
	assert.True(t, tab.ClearOne(1, 1))
	assert.Empty(t, tab.PreviouslyActive())
	assert.False(t, tab.ClearOne(1, 1))
}

func TestEncodeDecodeFreezeFrameRoundTrip(t *testing.T) {
	in := FreezeFrame{
		DTC:       DTC{SPN: 412, FMI: 0, OccurrenceCount: 3},
		Timestamp: 987654,
		Snapshots: []SPNValue{{SPN: 190, Value: 650}, {SPN: 110, Value: 92}},
	}
	out, ok := DecodeFreezeFrame(EncodeFreezeFrame(in))
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestDecodeFreezeFrameTruncatedSnapshotsFails(t *testing.T) {
	enc := EncodeFreezeFrame(FreezeFrame{
		DTC:       DTC{SPN: 412, FMI: 1},
		Snapshots: []SPNValue{{SPN: 190, Value: 650}},
	})
	_, ok := DecodeFreezeFrame(enc[:len(enc)-1])
	assert.False(t, ok)
}

package acs

import (
	"testing"

	"github.com/samsamfire/bplib/pkg/bpblock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	fills := []uint64{0, 3, 2, 2}
	buf, err := EncodeRecord(true, 3, fills)
	require.NoError(t, err)

	rec, err := DecodeRecord(buf)
	require.NoError(t, err)
	assert.True(t, rec.Delivered)
	assert.EqualValues(t, 3, rec.FirstCID)
	assert.Equal(t, fills, rec.Fills)
}

func TestFillCompressionScenario(t *testing.T) {
	// spec §8 scenario 6: CIDs [3,4,5,8,9] from custodian (10,0).
	custodian := bpblock.EID{Node: 10, Service: 0}
	var lastHeader, lastPayload []byte
	table := newTestTable(t, func(h, p []byte) error {
		lastHeader = h
		lastPayload = p
		return nil
	})

	for _, cid := range []uint64{3, 4, 5, 8, 9} {
		flags, err := table.Update(0, 0, 0, cid, custodian, true)
		require.NoError(t, err)
		assert.Zero(t, flags)
	}

	// Nothing has been finalized yet (no overflow, rate not elapsed).
	assert.Nil(t, lastHeader)

	// Force a rate-triggered finalize.
	flags := table.Tick(1_000_000_000, 100, 0)
	assert.Zero(t, flags)
	require.NotNil(t, lastPayload)

	rec, err := DecodeRecord(lastPayload)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rec.FirstCID)
	assert.Equal(t, []uint64{0, 3, 2, 2}, rec.Fills)
	assert.Equal(t, []uint64{3, 4, 5, 8, 9}, rec.ExpandCIDs())
}

func TestCIDWentBackwardsDoesNotMutateRunState(t *testing.T) {
	custodian := bpblock.EID{Node: 1, Service: 0}
	table := newTestTable(t, func(h, p []byte) error { return nil })

	_, err := table.Update(0, 0, 0, 5, custodian, true)
	require.NoError(t, err)
	_, err = table.Update(0, 0, 0, 6, custodian, true)
	require.NoError(t, err)

	flags, err := table.Update(0, 0, 0, 4, custodian, true)
	require.NoError(t, err)
	assert.Equal(t, FlagCIDWentBackwards, flags)

	e := table.find(custodian)
	assert.EqualValues(t, 6, e.lastCID)
	assert.Equal(t, []uint64{0, 2}, e.fills)
}

func TestTooManySourcesDropsUpdate(t *testing.T) {
	table := newTestTableWithMax(t, 1, func(h, p []byte) error { return nil })
	_, err := table.Update(0, 0, 0, 1, bpblock.EID{Node: 1}, true)
	require.NoError(t, err)

	flags, err := table.Update(0, 0, 0, 1, bpblock.EID{Node: 2}, true)
	require.NoError(t, err)
	assert.Equal(t, FlagTooManySources, flags)
	assert.Equal(t, 1, table.Len())
}

func newTestTable(t *testing.T, enqueue Enqueuer) *Table {
	return newTestTableWithMax(t, 8, enqueue)
}

func newTestTableWithMax(t *testing.T, maxSources int, enqueue Enqueuer) *Table {
	seq := uint64(0)
	build := func(custodian bpblock.EID) (*DACSHeader, error) {
		buf := make([]byte, 256)
		primary, size, err := bpblock.NewPrimaryTemplate(buf, bpblock.PrimaryOptions{
			Destination: custodian,
			Source:      bpblock.EID{Node: 99, Service: 0},
		})
		require.NoError(t, err)
		bib, n, err := bpblock.NewBIBTemplate(buf, size, bpblock.CRC16)
		require.NoError(t, err)
		payload, err := bpblock.NewPayloadTemplate(buf, size+n, 0)
		require.NoError(t, err)
		return &DACSHeader{Buf: buf, Primary: primary, BIB: bib, Payload: payload}, nil
	}
	return NewTable(maxSources, 62, 1, build, enqueue, func() uint64 {
		seq++
		return seq
	})
}

package bpblock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimaryRoundTrip(t *testing.T) {
	buf := make([]byte, 256)
	opts := PrimaryOptions{
		Destination:    EID{Node: 2, Service: 1},
		Source:         EID{Node: 1, Service: 1},
		ReportTo:       EID{Node: 1, Service: 1},
		Custodian:      EID{Node: 1, Service: 1},
		Lifetime:       3600,
		RequestCustody: true,
		AllowFragment:  false,
	}
	tmpl, size, err := NewPrimaryTemplate(buf, opts)
	require.NoError(t, err)
	require.Greater(t, size, 0)

	overflow, err := tmpl.PatchCreation(buf, 100, 200, 7)
	require.NoError(t, err)
	assert.False(t, overflow)

	p, n, err := ReadPrimary(buf[:size])
	require.NoError(t, err)
	assert.Equal(t, size, n)
	assert.Equal(t, opts.Destination, p.Destination)
	assert.Equal(t, opts.Source, p.Source)
	assert.EqualValues(t, 100, p.CreateSeconds)
	assert.EqualValues(t, 200, p.CreateNanos)
	assert.EqualValues(t, 7, p.CreateSeq)
	assert.True(t, p.Flags.RequestCustody())
	assert.False(t, p.Flags.AllowFragment())
}

func TestPrimaryFragmentFieldsOnlyWrittenWhenAllowed(t *testing.T) {
	buf := make([]byte, 256)
	opts := PrimaryOptions{
		Destination:   EID{Node: 2, Service: 1},
		Source:        EID{Node: 1, Service: 1},
		AllowFragment: false,
	}
	tmpl, _, err := NewPrimaryTemplate(buf, opts)
	require.NoError(t, err)

	overflow, err := tmpl.PatchFragment(buf, 8, 16)
	require.NoError(t, err)
	assert.False(t, overflow) // no-op: zero-width field, never overflows
}

func TestRouteInfo(t *testing.T) {
	buf := make([]byte, 256)
	opts := PrimaryOptions{
		Destination: EID{Node: 42, Service: 7},
		Source:      EID{Node: 1, Service: 1},
	}
	_, _, err := NewPrimaryTemplate(buf, opts)
	require.NoError(t, err)

	dst, err := RouteInfo(buf)
	require.NoError(t, err)
	assert.Equal(t, EID{Node: 42, Service: 7}, dst)
}

func TestCTEBRoundTripAndCIDPatch(t *testing.T) {
	buf := make([]byte, 64)
	tmpl, size, err := NewCTEBTemplate(buf, 0, EID{Node: 1, Service: 1})
	require.NoError(t, err)

	_, err = tmpl.PatchCID(buf, 55)
	require.NoError(t, err)

	cteb, n, err := ReadCTEB(buf[:size])
	require.NoError(t, err)
	assert.Equal(t, size, n)
	assert.EqualValues(t, 55, cteb.CID)
	assert.Equal(t, EID{Node: 1, Service: 1}, cteb.Custodian)
}

func TestBIBCRC16VerifiesAndDetectsCorruption(t *testing.T) {
	buf := make([]byte, 64)
	tmpl, size, err := NewBIBTemplate(buf, 0, CRC16)
	require.NoError(t, err)

	payload := []byte("hello world")
	_, err = tmpl.Update(buf, payload)
	require.NoError(t, err)

	bib, n, err := ReadBIB(buf[:size])
	require.NoError(t, err)
	assert.Equal(t, size, n)
	assert.True(t, bib.Verify(payload))

	corrupted := append([]byte(nil), payload...)
	corrupted[0] ^= 0xFF
	assert.False(t, bib.Verify(corrupted))
}

func TestBIBCRC32RoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	tmpl, size, err := NewBIBTemplate(buf, 0, CRC32)
	require.NoError(t, err)
	payload := []byte("a longer payload to checksum")
	_, err = tmpl.Update(buf, payload)
	require.NoError(t, err)

	bib, _, err := ReadBIB(buf[:size])
	require.NoError(t, err)
	assert.True(t, bib.Verify(payload))
}

func TestPayloadPreludeRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	tmpl, err := NewPayloadTemplate(buf, 0, 5)
	require.NoError(t, err)

	p, n, err := ReadPayloadPrelude(buf)
	require.NoError(t, err)
	assert.Equal(t, PreludeSize, n)
	assert.EqualValues(t, 5, p.Length)

	_, err = tmpl.Update(buf, 9)
	require.NoError(t, err)
	p2, _, err := ReadPayloadPrelude(buf)
	require.NoError(t, err)
	assert.EqualValues(t, 9, p2.Length)
}

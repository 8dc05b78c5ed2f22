package config

import (
	"testing"

	"github.com/samsamfire/bplib"
	"github.com/samsamfire/bplib/pkg/bpblock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/ini.v1"
)

const sampleProfiles = `
[channel "reliable"]
RequestCustody = true
WrapPolicy = block
TimeoutMs = 5000
PayloadCRCType = crc32
ACSRateMs = 250

[channel "besteffort"]
RequestCustody = false
MaxBundleLength = 2048
`

func TestParseProfilesOverridesDefaults(t *testing.T) {
	file, err := ini.Load([]byte(sampleProfiles))
	require.NoError(t, err)

	profiles, err := parseProfiles(file)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	reliable := profiles["reliable"]
	assert.True(t, reliable.RequestCustody)
	assert.Equal(t, bplib.WrapBlock, reliable.Wrap)
	assert.Equal(t, 5000, reliable.TimeoutMs)
	assert.Equal(t, bpblock.CRC32, reliable.PayloadCRCType)
	assert.EqualValues(t, 250, reliable.ACSRateMs)

	besteffort := profiles["besteffort"]
	assert.False(t, besteffort.RequestCustody)
	assert.Equal(t, 2048, besteffort.MaxBundleLength)
	// Untouched fields keep the default.
	assert.Equal(t, bplib.DefaultOptions().Wrap, besteffort.Wrap)
}

func TestConfigurePreservesIdentityFields(t *testing.T) {
	file, err := ini.Load([]byte(sampleProfiles))
	require.NoError(t, err)
	profiles, err := parseProfiles(file)
	require.NoError(t, err)

	mutate, err := Configure(profiles, "reliable")
	require.NoError(t, err)

	opts := bplib.DefaultOptions()
	opts.Source = bpblock.EID{Node: 1, Service: 0}
	opts.Destination = bpblock.EID{Node: 2, Service: 0}
	mutate(&opts)

	assert.Equal(t, bpblock.EID{Node: 1, Service: 0}, opts.Source)
	assert.Equal(t, bpblock.EID{Node: 2, Service: 0}, opts.Destination)
	assert.True(t, opts.RequestCustody)
	assert.Equal(t, bplib.WrapBlock, opts.Wrap)
}

func TestConfigureUnknownProfile(t *testing.T) {
	_, err := Configure(map[string]bplib.Options{}, "missing")
	assert.Error(t, err)
}

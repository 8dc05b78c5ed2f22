// Package config loads named channel option profiles from an INI file,
// turning each section's keys into typed values via gopkg.in/ini.v1. A profile supplies the ambient
// settings for one class of channel: timing, CRC type, wrap policy, table
// sizing. Endpoint identity (source/destination EID) stays the caller's
// concern, passed to Agent.Open/OpenWithOptions directly, so that the same
// profile can be reused across many remote peers.
package config

import (
	"fmt"
	"strings"

	"github.com/samsamfire/bplib"
	"github.com/samsamfire/bplib/pkg/bpblock"
	"gopkg.in/ini.v1"
)

// LoadProfiles parses path and returns one bplib.Options per [channel "name"]
// section, keyed by name. Every section starts from bplib.DefaultOptions so
// a profile only needs to override what differs from the defaults.
func LoadProfiles(path string) (map[string]bplib.Options, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return parseProfiles(file)
}

func parseProfiles(file *ini.File) (map[string]bplib.Options, error) {
	profiles := make(map[string]bplib.Options)
	for _, section := range file.Sections() {
		name, ok := channelSectionName(section.Name())
		if !ok {
			continue
		}
		opts, err := parseSection(section)
		if err != nil {
			return nil, fmt.Errorf("config: section %q: %w", section.Name(), err)
		}
		profiles[name] = opts
	}
	return profiles, nil
}

// channelSectionName recognizes sections named `channel "profileName"`, the
// same quoted-subsection convention gopkg.in/ini.v1 itself documents.
func channelSectionName(raw string) (string, bool) {
	const prefix = "channel"
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	rest := strings.TrimSpace(raw[len(prefix):])
	rest = strings.Trim(rest, `"`)
	if rest == "" {
		return "", false
	}
	return rest, true
}

func parseSection(section *ini.Section) (bplib.Options, error) {
	opts := bplib.DefaultOptions()

	if k, err := section.GetKey("Lifetime"); err == nil {
		v, err := k.Uint64()
		if err != nil {
			return opts, err
		}
		opts.Lifetime = v
	}
	if k, err := section.GetKey("RequestCustody"); err == nil {
		v, err := k.Bool()
		if err != nil {
			return opts, err
		}
		opts.RequestCustody = v
	}
	if k, err := section.GetKey("AllowFragment"); err == nil {
		v, err := k.Bool()
		if err != nil {
			return opts, err
		}
		opts.AllowFragment = v
	}
	if k, err := section.GetKey("ReportDeletion"); err == nil {
		v, err := k.Bool()
		if err != nil {
			return opts, err
		}
		opts.ReportDeletion = v
	}
	if k, err := section.GetKey("PayloadCRCType"); err == nil {
		crcType, err := parseCRCType(k.String())
		if err != nil {
			return opts, err
		}
		opts.PayloadCRCType = crcType
	}
	if k, err := section.GetKey("TimeoutMs"); err == nil {
		v, err := k.Int()
		if err != nil {
			return opts, err
		}
		opts.TimeoutMs = v
	}
	if k, err := section.GetKey("MaxBundleLength"); err == nil {
		v, err := k.Int()
		if err != nil {
			return opts, err
		}
		opts.MaxBundleLength = v
	}
	if k, err := section.GetKey("MaxFragmentLength"); err == nil {
		v, err := k.Int()
		if err != nil {
			return opts, err
		}
		opts.MaxFragmentLength = v
	}
	if k, err := section.GetKey("AdminOnly"); err == nil {
		v, err := k.Bool()
		if err != nil {
			return opts, err
		}
		opts.AdminOnly = v
	}
	if k, err := section.GetKey("WrapPolicy"); err == nil {
		wrap, err := parseWrapPolicy(k.String())
		if err != nil {
			return opts, err
		}
		opts.Wrap = wrap
	}
	if k, err := section.GetKey("ACSRateMs"); err == nil {
		v, err := k.Uint64()
		if err != nil {
			return opts, err
		}
		opts.ACSRateMs = v
	}
	if k, err := section.GetKey("ActiveTableSize"); err == nil {
		v, err := k.Int()
		if err != nil {
			return opts, err
		}
		opts.ActiveTableSize = v
	}
	if k, err := section.GetKey("MaxAccumulators"); err == nil {
		v, err := k.Int()
		if err != nil {
			return opts, err
		}
		opts.MaxAccumulators = v
	}
	if k, err := section.GetKey("MaxFills"); err == nil {
		v, err := k.Int()
		if err != nil {
			return opts, err
		}
		opts.MaxFills = v
	}

	return opts, nil
}

func parseCRCType(s string) (bpblock.CRCType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return bpblock.CRCNone, nil
	case "crc16", "16":
		return bpblock.CRC16, nil
	case "crc32", "32":
		return bpblock.CRC32, nil
	default:
		return 0, fmt.Errorf("config: unknown PayloadCRCType %q", s)
	}
}

func parseWrapPolicy(s string) (bplib.WrapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "resend":
		return bplib.WrapResend, nil
	case "block":
		return bplib.WrapBlock, nil
	case "drop":
		return bplib.WrapDrop, nil
	default:
		return 0, fmt.Errorf("config: unknown WrapPolicy %q", s)
	}
}

// Configure returns a bplib.Options mutator for the named profile, suitable
// as the configure argument to Agent.OpenWithOptions. It overlays the
// profile's ambient settings onto whatever Options OpenWithOptions has
// already populated (Source/Destination/ReportTo/Custodian), leaving
// identity fields untouched.
func Configure(profiles map[string]bplib.Options, name string) (func(*bplib.Options), error) {
	profile, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("config: no profile named %q", name)
	}
	return func(o *bplib.Options) {
		identity := struct {
			Destination, Source, ReportTo, Custodian bpblock.EID
		}{o.Destination, o.Source, o.ReportTo, o.Custodian}
		*o = profile
		o.Destination, o.Source, o.ReportTo, o.Custodian =
			identity.Destination, identity.Source, identity.ReportTo, identity.Custodian
	}, nil
}

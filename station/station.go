// Package station loads beamline station configuration files describing the
// positioner axes and detector ensemble available to a sequencer.
//
// A station file is an INI document with one section per device:
//
//	[station]
//	name = bl13-xrm
//
//	[positioner.samx]
//	drive     = 13XRM:m1.VAL
//	readback  = 13XRM:m1.RBV
//	tolerance = 0.001
//	units     = mm
//	order     = 1
//
//	[detector.scaler1]
//	pv       = 13XRM:scaler1
//	kind     = scaler
//	channels = 8
package station

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xrmlab/go-scan/detector"
	"github.com/xrmlab/go-scan/positioner"
)

var (
	// ErrNoPositioners indicates a station file without positioner sections.
	ErrNoPositioners = errors.New("station config declares no positioners")

	// ErrNoDetectors indicates a station file without detector sections.
	ErrNoDetectors = errors.New("station config declares no detectors")

	// ErrBadSection indicates a malformed device section.
	ErrBadSection = errors.New("malformed station config section")
)

// Config is an immutable snapshot of one loaded station file.
type Config struct {
	// Name identifies the station.
	Name string
	// Positioners holds the axis specs in scan order.
	Positioners []positioner.Spec
	// Detectors holds the detector specs, enabled and disabled alike.
	Detectors []detector.Spec
	// SettleDelay is the station's post-move settle delay, zero when the file
	// does not override the sequencer default.
	SettleDelay time.Duration
}

// Load reads and validates a station file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read station config: %w", err)
	}

	cfg := &Config{
		Name:        v.GetString("station.name"),
		SettleDelay: v.GetDuration("station.settle_delay"),
	}

	var err error
	if cfg.Positioners, err = loadPositioners(v); err != nil {
		return nil, err
	}
	if cfg.Detectors, err = loadDetectors(v); err != nil {
		return nil, err
	}

	return cfg, nil
}

// EnabledDetectors returns the specs of the enabled detectors only.
func (c *Config) EnabledDetectors() []detector.Spec {
	out := make([]detector.Spec, 0, len(c.Detectors))
	for _, spec := range c.Detectors {
		if spec.Enabled {
			out = append(out, spec)
		}
	}

	return out
}

func loadPositioners(v *viper.Viper) ([]positioner.Spec, error) {
	names := sectionNames(v, "positioner")
	if len(names) == 0 {
		return nil, ErrNoPositioners
	}

	type orderedSpec struct {
		order int
		spec  positioner.Spec
	}
	specs := make([]orderedSpec, 0, len(names))

	for _, name := range names {
		base := "positioner." + name + "."

		spec := positioner.Spec{
			Label:      name,
			DrivePV:    v.GetString(base + "drive"),
			ReadbackPV: v.GetString(base + "readback"),
			DonePV:     v.GetString(base + "done"),
			Tolerance:  v.GetFloat64(base + "tolerance"),
			Units:      v.GetString(base + "units"),
		}
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("positioner.%s: %w", name, err)
		}
		specs = append(specs, orderedSpec{order: v.GetInt(base + "order"), spec: spec})
	}

	// Explicit order keys win; ties fall back to the label.
	sort.SliceStable(specs, func(i, j int) bool {
		if specs[i].order != specs[j].order {
			return specs[i].order < specs[j].order
		}
		return specs[i].spec.Label < specs[j].spec.Label
	})

	out := make([]positioner.Spec, len(specs))
	for i, s := range specs {
		out[i] = s.spec
	}

	return out, nil
}

func loadDetectors(v *viper.Viper) ([]detector.Spec, error) {
	names := sectionNames(v, "detector")
	if len(names) == 0 {
		return nil, ErrNoDetectors
	}

	specs := make([]detector.Spec, 0, len(names))
	for _, name := range names {
		base := "detector." + name + "."

		kind, err := parseKind(v.GetString(base + "kind"))
		if err != nil {
			return nil, fmt.Errorf("detector.%s: %w", name, err)
		}
		rois, err := parseROIs(v.GetString(base + "rois"))
		if err != nil {
			return nil, fmt.Errorf("detector.%s: %w", name, err)
		}

		channels := 1
		if v.IsSet(base + "channels") {
			channels = v.GetInt(base + "channels")
		}
		enabled := true
		if v.IsSet(base + "enabled") {
			enabled = v.GetBool(base + "enabled")
		}

		spec := detector.Spec{
			Label:             name,
			PV:                v.GetString(base + "pv"),
			Kind:              kind,
			Channels:          channels,
			ROIs:              rois,
			SupportsROI:       v.GetBool(base+"roi") || len(rois) > 0,
			SupportsStreaming: v.GetBool(base + "streaming"),
			Enabled:           enabled,
		}
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("detector.%s: %w", name, err)
		}
		specs = append(specs, spec)
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Label < specs[j].Label })

	return specs, nil
}

func parseKind(s string) (detector.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "scaler":
		return detector.KindScaler, nil
	case "mca", "multichannel", "areadetector":
		return detector.KindMultiChannelArray, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrBadSection, s)
	}
}

// parseROIs parses a comma-separated ROI list, each entry "label:lo:hi" with
// inclusive channel bounds.
func parseROIs(s string) ([]detector.ROI, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	entries := strings.Split(s, ",")
	rois := make([]detector.ROI, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: roi entry %q", ErrBadSection, entry)
		}

		var lo, hi int
		if _, err := fmt.Sscanf(parts[1], "%d", &lo); err != nil {
			return nil, fmt.Errorf("%w: roi bound %q", ErrBadSection, parts[1])
		}
		if _, err := fmt.Sscanf(parts[2], "%d", &hi); err != nil {
			return nil, fmt.Errorf("%w: roi bound %q", ErrBadSection, parts[2])
		}
		rois = append(rois, detector.ROI{Label: strings.TrimSpace(parts[0]), Lo: lo, Hi: hi})
	}

	return rois, nil
}

// sectionNames lists the device names under one section prefix, sorted.
// Viper flattens INI sections into dotted keys, so the names are recovered
// from the key list rather than a sub-tree lookup.
func sectionNames(v *viper.Viper, prefix string) []string {
	seen := make(map[string]struct{})
	for _, key := range v.AllKeys() {
		rest, ok := strings.CutPrefix(key, prefix+".")
		if !ok {
			continue
		}
		if name, _, found := strings.Cut(rest, "."); found && name != "" {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

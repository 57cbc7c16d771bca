package band

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Plan holds a channel-plan override, loaded from a YAML file.
//
// Example:
//
//	sub_bands:
//	- name: deci
//	  min_frequency: 869400000
//	  max_frequency: 869650000
//	  tx_cap: 10
//	  max_power: 27
//	channels:
//	- index: 3
//	  frequency: 867100000
//	  min_dr: 0
//	  max_dr: 5
//	enabled_channels: [0, 1, 2, 3]
type Plan struct {
	SubBands        []PlanSubBand `yaml:"sub_bands"`
	Channels        []PlanChannel `yaml:"channels"`
	SubBand         *int          `yaml:"sub_band"`
	EnabledChannels []int         `yaml:"enabled_channels"`
}

// PlanSubBand defines a duty-cycle limited sub-band of a channel-list band.
type PlanSubBand struct {
	Name         string `yaml:"name"`
	MinFrequency uint32 `yaml:"min_frequency"`
	MaxFrequency uint32 `yaml:"max_frequency"`
	TXCap        int    `yaml:"tx_cap"`
	MaxPower     int    `yaml:"max_power"`
}

// PlanChannel defines an additional uplink channel.
type PlanChannel struct {
	Index     int    `yaml:"index"`
	Frequency uint32 `yaml:"frequency"`
	MinDR     int    `yaml:"min_dr"`
	MaxDR     int    `yaml:"max_dr"`
}

// LoadPlan reads the plan from the given YAML file.
func LoadPlan(path string) (Plan, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return Plan{}, errors.Wrap(err, "read file error")
	}
	return ParsePlan(b)
}

// ParsePlan parses the given YAML document.
func ParsePlan(b []byte) (Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Plan{}, errors.Wrap(err, "unmarshal yaml error")
	}
	return p, nil
}

// Apply applies the plan to the given strategy.
func (p Plan) Apply(s Strategy) error {
	if len(p.SubBands) != 0 {
		cl, ok := s.(*ChannelList)
		if !ok {
			return errors.Errorf("band %s has no sub-bands", s.Name())
		}

		var sb []SubBand
		for _, b := range p.SubBands {
			sb = append(sb, SubBand{
				Name:         b.Name,
				MinFrequency: b.MinFrequency,
				MaxFrequency: b.MaxFrequency,
				TXCap:        b.TXCap,
				MaxPower:     b.MaxPower,
			})
		}
		if err := cl.SetSubBands(sb); err != nil {
			return errors.Wrap(err, "set sub-bands error")
		}
	}

	for _, c := range p.Channels {
		if fOK, drOK := s.SetupChannel(c.Index, c.Frequency, c.MinDR, c.MaxDR); !fOK || !drOK {
			return errors.Errorf("setup channel %d error (frequency ok: %t, data-rate ok: %t)", c.Index, fOK, drOK)
		}
	}

	if p.SubBand != nil {
		fg, ok := s.(*FixedGrid)
		if !ok {
			return errors.Errorf("band %s does not support sub-band selection", s.Name())
		}
		if !fg.SelectSubBand(*p.SubBand) {
			return errors.Errorf("invalid sub-band %d", *p.SubBand)
		}
	}

	if len(p.EnabledChannels) != 0 {
		for _, ch := range s.Channels() {
			s.DisableChannel(ch.Index)
		}
		for _, i := range p.EnabledChannels {
			if !s.EnableChannel(i) {
				return errors.Errorf("enable channel %d error", i)
			}
		}
	}

	return nil
}

package ictboard

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hubertat/ictboard/errcode"
)

// placeholderPrefix marks unused positions in a mapping list, e.g. "EMPTY_12".
const placeholderPrefix = "EMPTY"

// SignalMap names aggregate bits. Position i of each list labels bit i.
type SignalMap struct {
	InputMapping  []string `yaml:"InputMapping"`
	OutputMapping []string `yaml:"OutputMapping"`
}

// Signal is one labelled bit and its state.
type Signal struct {
	Label string `json:"label"`
	Bit   int    `json:"bit"`
	On    bool   `json:"on"`
}

// LoadSignalMap reads a mapping file. JSON files (mapping.json) are read as YAML.
func LoadSignalMap(path string) (*SignalMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read mapping %s", path)
	}

	sm := &SignalMap{}
	if err := yaml.Unmarshal(raw, sm); err != nil {
		return nil, errors.Wrap(errcode.Configuration, fmt.Sprintf("decode mapping %s: %v", path, err))
	}
	if err := sm.Validate(); err != nil {
		return nil, err
	}
	return sm, nil
}

func isPlaceholder(label string) bool {
	return len(label) == 0 || strings.HasPrefix(label, placeholderPrefix)
}

func validateLabels(kind string, labels []string) error {
	if len(labels) > AggregateWidth {
		return errors.Wrapf(errcode.Configuration, "%s mapping has %d labels, at most %d bits", kind, len(labels), AggregateWidth)
	}
	seen := make(map[string]int)
	for i, label := range labels {
		if isPlaceholder(label) {
			continue
		}
		if prev, found := seen[label]; found {
			return errors.Wrapf(errcode.Configuration, "%s label %q used for bits %d and %d", kind, label, prev, i)
		}
		seen[label] = i
	}
	return nil
}

func (sm *SignalMap) Validate() error {
	if err := validateLabels("input", sm.InputMapping); err != nil {
		return err
	}
	return validateLabels("output", sm.OutputMapping)
}

func indexOf(labels []string, label string) int {
	if isPlaceholder(label) {
		return -1
	}
	for i, l := range labels {
		if l == label {
			return i
		}
	}
	return -1
}

// OutputBit returns the aggregate bit driven by an output label.
func (sm *SignalMap) OutputBit(label string) (int, error) {
	i := indexOf(sm.OutputMapping, label)
	if i < 0 {
		return 0, errors.Wrapf(errcode.Protocol, "unknown output signal %q", label)
	}
	return i, nil
}

// InputBit returns the aggregate bit reporting an input label.
func (sm *SignalMap) InputBit(label string) (int, error) {
	i := indexOf(sm.InputMapping, label)
	if i < 0 {
		return 0, errors.Wrapf(errcode.Protocol, "unknown input signal %q", label)
	}
	return i, nil
}

func decode(labels []string, bits AggregateBits) []Signal {
	signals := make([]Signal, 0, len(labels))
	for i, label := range labels {
		if isPlaceholder(label) {
			continue
		}
		signals = append(signals, Signal{Label: label, Bit: i, On: bits.Bit(i)})
	}
	return signals
}

// DecodeInputs labels an input word, in bit order. Placeholders are skipped.
func (sm *SignalMap) DecodeInputs(bits AggregateBits) []Signal {
	return decode(sm.InputMapping, bits)
}

// DecodeOutputs labels an output word, in bit order. Placeholders are skipped.
func (sm *SignalMap) DecodeOutputs(bits AggregateBits) []Signal {
	return decode(sm.OutputMapping, bits)
}

// Outputs returns every labelled output in bit order.
func (sm *SignalMap) Outputs() (labels []string) {
	for _, label := range sm.OutputMapping {
		if !isPlaceholder(label) {
			labels = append(labels, label)
		}
	}
	return
}

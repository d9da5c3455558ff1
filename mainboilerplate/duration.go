package mainboilerplate

import (
	"time"
)

// Duration is a time.Duration which parses from flag values and YAML
// scalars alike in time.ParseDuration syntax ("300ms", "2h45m").
type Duration time.Duration

// UnmarshalFlag implements the go-flags Unmarshaler.
func (d *Duration) UnmarshalFlag(value string) error {
	var parsed, err = time.ParseDuration(value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalFlag implements the go-flags Marshaler.
func (d Duration) MarshalFlag() (string, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements the yaml Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalFlag(s)
}

// MarshalYAML implements the yaml Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

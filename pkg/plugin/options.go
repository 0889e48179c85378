package plugin

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/chronicle/internal/core"
)

// DecodeOptions fills the mapstructure-tagged struct out from a plugin's raw
// option map. Strings convert to durations and numbers to the field type;
// unknown keys are rejected.
func DecodeOptions(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return nil
}

package sink

import (
	"github.com/go-viper/mapstructure/v2"
)

// BindParams decodes an output's params map onto an adapter's configurable
// fields. Unknown keys are skipped so outputs can carry settings for other
// consumers; a value that fails to decode into a recognized field is a
// ConfigError.
func BindParams(params map[string]interface{}, adapter Adapter) error {
	if len(params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           adapter,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return Configf("invalid output params: %v", err)
	}
	return nil
}

package utils

import (
	"github.com/bytedance/sonic"

	"github.com/saiset-co/sai-query-cache/types"
)

func Marshal(data interface{}) ([]byte, error) {
	return sonic.ConfigDefault.Marshal(data)
}

func MarshalString(data interface{}) (string, error) {
	return sonic.ConfigDefault.MarshalToString(data)
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

func UnmarshalString[T any](data string, target *T) error {
	return sonic.ConfigDefault.UnmarshalFromString(data, target)
}

// UnmarshalConfig decodes a loosely typed backend sub-config, usually a map
// produced by the YAML decoder, into target. Fields absent from config keep
// the defaults already set on target; a nil config leaves target untouched.
func UnmarshalConfig[T any](config interface{}, target *T) error {
	switch typed := config.(type) {
	case nil:
		return nil
	case *T:
		*target = *typed
		return nil
	case T:
		*target = typed
		return nil
	}

	payload, err := sonic.ConfigDefault.Marshal(config)
	if err != nil {
		return types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	if err = sonic.ConfigDefault.Unmarshal(payload, target); err != nil {
		return types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}
	return nil
}

package checkpoint

import (
	"encoding/json"
	"fmt"
)

// envelope is the serialized form shared by the persistent stores.
type envelope struct {
	Data map[string]any `json:"data"`
}

func encode(content map[string]any) ([]byte, error) {
	raw, err := json.Marshal(envelope{Data: content})
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return raw, nil
}

func decode(raw []byte) (map[string]any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if env.Data == nil {
		env.Data = map[string]any{}
	}
	return env.Data, nil
}

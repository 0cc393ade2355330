package payproc

import "encoding/json"

func decodeJSON(payload []byte, v any) error {
	return json.Unmarshal(payload, v)
}

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

package domain

import (
	"encoding/json"
	"errors"
)

const SecurePassthroughMethod = "securePassthrough"

type RequestEnvelope struct {
	Method          string         `json:"method"`
	Params          map[string]any `json:"params"`
	RequestTimeMils int64          `json:"requestTimeMils"`
	TerminalUUID    string         `json:"terminalUUID,omitempty"`
}

type SecurePassthroughParams struct {
	Request string `json:"request"`
}

type SecurePassthroughEnvelope struct {
	Method string                  `json:"method"`
	Params SecurePassthroughParams `json:"params"`
}

// ResponseBody is a device JSON response, already decrypted when it arrived
// through the secure channel.
type ResponseBody json.RawMessage

type responseHeader struct {
	ErrorCode int             `json:"error_code"`
	Result    json.RawMessage `json:"result"`
}

func (b ResponseBody) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return []byte("null"), nil
	}
	return b, nil
}

func (b ResponseBody) Decode(v any) error {
	if len(b) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(b, v)
}

// ErrorCode returns the device error_code field, 0 when absent.
func (b ResponseBody) ErrorCode() int {
	var header responseHeader
	if err := b.Decode(&header); err != nil {
		return 0
	}
	return header.ErrorCode
}

// Result returns the raw result object, nil when absent.
func (b ResponseBody) Result() json.RawMessage {
	var header responseHeader
	if err := b.Decode(&header); err != nil {
		return nil
	}
	if len(header.Result) == 0 || string(header.Result) == "null" {
		return nil
	}
	return header.Result
}

package kanata

import (
	"encoding/json"
	"fmt"
)

// The kanata TCP server speaks newline-delimited JSON objects keyed by
// message name in both directions.

type changeLayer struct {
	New string `json:"new"`
}

type actOnFakeKey struct {
	Name   string `json:"name"`
	Action string `json:"action"`
}

type setMouse struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type request struct {
	ChangeLayer             *changeLayer  `json:"ChangeLayer,omitempty"`
	ActOnFakeKey            *actOnFakeKey `json:"ActOnFakeKey,omitempty"`
	SetMouse                *setMouse     `json:"SetMouse,omitempty"`
	RequestCurrentLayerName *struct{}     `json:"RequestCurrentLayerName,omitempty"`
	RequestCurrentLayerInfo *struct{}     `json:"RequestCurrentLayerInfo,omitempty"`
	RequestLayerNames       *struct{}     `json:"RequestLayerNames,omitempty"`
}

type currentLayerName struct {
	Name string `json:"name"`
}

type layerNames struct {
	Names []string `json:"names"`
}

type layerChange struct {
	New string `json:"new"`
}

type serverError struct {
	Msg string `json:"msg"`
}

// LayerInfo is the payload of a CurrentLayerInfo response.
type LayerInfo struct {
	Name    string `json:"name"`
	CfgText string `json:"cfg_text"`
}

type response struct {
	CurrentLayerName *currentLayerName `json:"CurrentLayerName,omitempty"`
	CurrentLayerInfo *LayerInfo        `json:"CurrentLayerInfo,omitempty"`
	LayerNames       *layerNames       `json:"LayerNames,omitempty"`
	LayerChange      *layerChange      `json:"LayerChange,omitempty"`
	Error            *serverError      `json:"Error,omitempty"`
}

func encodeMessage(req request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return append(data, '\n'), nil
}

func decodeLine(line []byte) (*response, error) {
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, &ProtocolError{Line: string(line), Err: err}
	}
	return &resp, nil
}

// ProtocolError reports a malformed or unexpected daemon response. The
// request that hit it is treated as failed; the session stays up.
type ProtocolError struct {
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed kanata response %q: %v", e.Line, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

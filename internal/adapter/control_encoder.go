package adapter

import (
	"encoding/json"
	"fmt"

	"tradebridge/pkg/types"
)

// ReferenceControlEncoder renders venue A's control message shape:
// {"a":"subscribe","v":[<tokens>]}, {"a":"unsubscribe","v":[<tokens>]},
// {"a":"mode","v":["ltp"|"quote"|"full",[<tokens>]]}.
type ReferenceControlEncoder struct{}

func NewReferenceControlEncoder() ReferenceControlEncoder { return ReferenceControlEncoder{} }

type controlMessage struct {
	Action string `json:"a"`
	Value  any    `json:"v"`
}

// EncodeSubscribe implements ControlEncoder.
func (ReferenceControlEncoder) EncodeSubscribe(tokens []types.VenueToken) ([]byte, error) {
	return json.Marshal(controlMessage{Action: "subscribe", Value: tokens})
}

// EncodeUnsubscribe implements ControlEncoder.
func (ReferenceControlEncoder) EncodeUnsubscribe(tokens []types.VenueToken) ([]byte, error) {
	return json.Marshal(controlMessage{Action: "unsubscribe", Value: tokens})
}

// EncodeMode implements ControlEncoder.
func (ReferenceControlEncoder) EncodeMode(mode types.StreamMode, tokens []types.VenueToken) ([]byte, error) {
	wireMode, err := wireModeName(mode)
	if err != nil {
		return nil, err
	}
	return json.Marshal(controlMessage{Action: "mode", Value: []any{wireMode, tokens}})
}

func wireModeName(mode types.StreamMode) (string, error) {
	switch mode {
	case types.ModeLTP:
		return "ltp", nil
	case types.ModeQuote:
		return "quote", nil
	case types.ModeFull:
		return "full", nil
	default:
		return "", fmt.Errorf("adapter: unknown stream mode %q", mode)
	}
}

var _ ControlEncoder = ReferenceControlEncoder{}

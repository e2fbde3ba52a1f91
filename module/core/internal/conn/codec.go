package conn

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nandanugg/tj-tracking/module/core/domain"
)

var errMissingType = errors.New("missing type")

// Decode parses one inbound frame. Unknown types decode successfully and
// are left to the handlers to ignore.
func Decode(data []byte) (domain.Event, error) {
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return domain.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		return domain.Event{}, fmt.Errorf("decode event: %w", errMissingType)
	}
	return ev, nil
}

func Encode(cmd domain.Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.CommandType(), err)
	}
	return data, nil
}

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Decode errors.
var (
	ErrMalformed   = errors.New("malformed message envelope")
	ErrMissingType = errors.New("message has no type")
)

// ValidationError reports a semantically invalid payload for a known type.
// The connection that sent it receives an error reply and stays open.
type ValidationError struct {
	Type   MessageType
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s message: %s", e.Type, e.Reason)
}

func invalid(t MessageType, reason string) error {
	return &ValidationError{Type: t, Reason: reason}
}

// Decode parses raw wire bytes into a typed message. Messages with a type
// outside the protocol decode to Unknown rather than an error; the envelope
// itself failing to parse or lacking a type returns ErrMalformed or
// ErrMissingType.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	switch env.Type {
	case TypeUserJoin:
		var m UserJoin
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		// Missing identity fields default rather than fail.
		if m.Role == "" {
			m.Role = DefaultRole
		}
		if m.Color == "" {
			m.Color = DefaultColor
		}
		return m, nil

	case TypeUserLeave:
		var m UserLeave
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return m, nil

	case TypeCursorUpdate:
		// userId must be a non-empty string; a number or null is rejected
		// before it can poison the broadcast exclusion key.
		var m CursorUpdate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, invalid(TypeCursorUpdate, "userId must be a string")
		}
		if m.UserID == "" {
			return nil, invalid(TypeCursorUpdate, "userId is required")
		}
		return m, nil

	case TypeSchemaChange:
		var m SchemaChange
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.ChangeType == "" {
			return nil, invalid(TypeSchemaChange, "changeType is required")
		}
		if len(m.Data) == 0 {
			return nil, invalid(TypeSchemaChange, "data is required")
		}
		return m, nil

	case TypeSchemaOperation:
		var m SchemaOperation
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if len(m.Data) == 0 {
			return nil, invalid(TypeSchemaOperation, "data is required")
		}
		return m, nil

	case TypeUserSelection:
		var m UserSelection
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return m, nil

	case TypePresenceUpdate:
		var m PresenceUpdate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return m, nil

	case TypeGetSchemaData:
		return GetSchemaData{Type: TypeGetSchemaData}, nil

	case TypePing:
		var m Ping
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return m, nil

	default:
		return Unknown{Type: env.Type}, nil
	}
}

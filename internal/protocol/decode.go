package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeError reports why a frame was rejected. Kind is one of
// CodeUnknownType, CodeSchemaViolation or CodeProtocolViolation.
type DecodeError struct {
	Kind    ErrorCode
	Field   string // offending field for schema violations
	Message string
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func schemaErr(field, msg string) *DecodeError {
	return &DecodeError{Kind: CodeSchemaViolation, Field: field, Message: msg}
}

func violation(msg string) *DecodeError {
	return &DecodeError{Kind: CodeProtocolViolation, Message: msg}
}

// Decode parses one raw frame. It never panics; every failure is a *DecodeError.
func Decode(raw []byte) (*Envelope, error) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, schemaErr("", "frame is not a JSON object")
	}
	if f == nil {
		return nil, schemaErr("", "frame is not a JSON object")
	}

	typ, err := f.requiredString("type")
	if err != nil {
		return nil, err
	}

	kind, ok := classify(typ)
	if !ok {
		return nil, &DecodeError{Kind: CodeUnknownType, Field: "type", Message: fmt.Sprintf("unknown message type %q", typ)}
	}

	env := &Envelope{Kind: kind, Type: typ, Raw: raw}

	switch kind {
	case KindRegister:
		err = decodeRegister(f, env)
	case KindRegistered:
		env.ConnectionID, err = f.requiredString("connectionId")
	case KindSetProject:
		env.Project, err = f.project(true)
	case KindRequest:
		err = decodeRequest(f, env)
	case KindResponse:
		err = decodeResponse(f, env)
	case KindError:
		err = decodeError(f, env)
	case KindNotification:
		err = decodeNotification(f, env)
	}
	if err != nil {
		return nil, err
	}

	return env, nil
}

func decodeRegister(f fields, env *Envelope) error {
	s, err := f.requiredString("role")
	if err != nil {
		return err
	}
	role, ok := ParseRole(s)
	if !ok {
		return schemaErr("role", fmt.Sprintf("unknown role %q", s))
	}
	env.Role = role

	env.Project, err = f.project(false)
	return err
}

func decodeRequest(f fields, env *Envelope) error {
	var err error
	env.Domain = domainOf(env.Type)

	if env.RequestID, err = f.requiredString("requestId"); err != nil {
		return err
	}
	if env.Action, err = f.requiredString("action"); err != nil {
		return err
	}
	if env.TargetConnectionID, err = f.optionalString("targetConnectionId"); err != nil {
		return err
	}
	for _, name := range []string{"agentId", "threadId"} {
		if _, err := f.optionalString(name); err != nil {
			return err
		}
	}

	env.Payload = f.opaque("message")
	if env.Payload == nil {
		env.Payload = f.opaque("payload")
	}
	return nil
}

func decodeResponse(f fields, env *Envelope) error {
	var err error
	if env.RequestID, err = f.requiredString("requestId"); err != nil {
		return err
	}
	if env.Success, err = f.optionalBool("success"); err != nil {
		return err
	}
	if _, err = f.optionalString("error"); err != nil {
		return err
	}
	env.Payload = f.opaque("data")
	return nil
}

func decodeError(f fields, env *Envelope) error {
	var err error
	if env.RequestID, err = f.requiredString("requestId"); err != nil {
		return err
	}
	if env.Success, err = f.optionalBool("success"); err != nil {
		return err
	}

	msg, err := f.optionalString("error")
	if err != nil {
		return err
	}
	if msg == "" {
		if msg, err = f.optionalString("message"); err != nil {
			return err
		}
	}
	env.Message = msg

	code, err := f.optionalString("code")
	if err != nil {
		return err
	}
	env.Code = ErrorCode(code)
	return nil
}

func decodeNotification(f fields, env *Envelope) error {
	var err error
	if env.EventType, err = f.requiredString("eventType"); err != nil {
		return err
	}
	if _, ok := NotificationEventTypes[env.EventType]; !ok {
		return schemaErr("eventType", fmt.Sprintf("unknown event type %q", env.EventType))
	}

	target, err := f.optionalString("target")
	if err != nil {
		return err
	}
	env.Target = RoleObserver
	if target != "" {
		role, ok := ParseRole(target)
		if !ok {
			return schemaErr("target", fmt.Sprintf("unknown target role %q", target))
		}
		env.Target = role
	}

	env.Payload = f.opaque("data")
	return nil
}

// Validate applies the connection-state rules to a decoded envelope. role is
// the current role of the sending connection.
func Validate(env *Envelope, role Role) error {
	if env.Kind == KindRegistered {
		return violation("registered frames are sent by the hub only")
	}

	if role == RoleUnregistered {
		if env.Kind != KindRegister {
			return violation(fmt.Sprintf("connection must register before sending %q", env.Type))
		}
		return nil
	}

	if env.Kind == KindRegister {
		return violation("connection is already registered")
	}
	if role == RoleObserver {
		return violation(fmt.Sprintf("observers are receive-only, got %q", env.Type))
	}

	return nil
}

// fields is a JSON object keyed by member name.
type fields map[string]json.RawMessage

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func (f fields) requiredString(name string) (string, error) {
	raw, ok := f[name]
	if !ok || isNull(raw) {
		return "", schemaErr(name, "missing required field")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", schemaErr(name, "must be a string")
	}
	if s == "" {
		return "", schemaErr(name, "must not be empty")
	}
	return s, nil
}

func (f fields) optionalString(name string) (string, error) {
	raw, ok := f[name]
	if !ok || isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", schemaErr(name, "must be a string")
	}
	return s, nil
}

func (f fields) optionalBool(name string) (*bool, error) {
	raw, ok := f[name]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, schemaErr(name, "must be a boolean")
	}
	return &b, nil
}

// opaque returns a member as-is, or nil when absent or null.
func (f fields) opaque(name string) json.RawMessage {
	raw, ok := f[name]
	if !ok || isNull(raw) {
		return nil
	}
	return raw
}

func (f fields) project(required bool) (*Project, error) {
	raw, ok := f["project"]
	if !ok || isNull(raw) {
		if required {
			return nil, schemaErr("project", "missing required field")
		}
		return nil, nil
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, schemaErr("project", "must be an object")
	}

	var p Project
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, schemaErr("project", "path, name and type must be strings")
	}
	return &p, nil
}

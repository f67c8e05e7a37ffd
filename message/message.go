// Package message defines the wire message exchanged between the two RPC roles.
//
// There is no tag field: a message's shape is structural. A request carries an
// id and a method, a notification carries a method and no id, and a response
// carries an id together with a result or an error. Both endpoints decide what
// to do with an inbound message by looking at which fields are present.
package message

import (
	"encoding/json"
	"fmt"
)

// Error codes shared by both roles. The values are the JSON-RPC ones and must
// not change — peers written against other implementations depend on them.
const (
	CodeParseError     = -32700 // message text was not valid JSON
	CodeInvalidRequest = -32600 // parsed but missing or non-string method
	CodeMethodNotFound = -32601 // no handler registered for the method
	CodeInternalError  = -32603 // handler returned an error or panicked
)

// NoID is used on error replies that cannot be correlated to a request,
// e.g. a ParseError reply for a message that never yielded a valid id.
const NoID int64 = -1

// Message is the single wire envelope for requests, notifications and
// responses. Absent fields are omitted on the wire.
type Message struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`

	// Inbound-only shape flags, set by UnmarshalJSON. A method key that is
	// present but not a JSON string must surface as an invalid request, not
	// as a parse failure, so decoding stays tolerant of wrong field types.
	hasMethod bool
	badMethod bool
}

// Error is the payload of a failed response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// UnmarshalJSON decodes tolerantly: a syntactically valid object with a
// non-string method or a non-numeric id still decodes, with the offending
// field left unset and (for method) flagged. Only broken JSON itself fails.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w struct {
		ID     json.RawMessage `json:"id"`
		Method json.RawMessage `json:"method"`
		Params json.RawMessage `json:"params"`
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*m = Message{Params: w.Params, Result: w.Result, Error: w.Error}

	if len(w.Method) > 0 && string(w.Method) != "null" {
		m.hasMethod = true
		if err := json.Unmarshal(w.Method, &m.Method); err != nil {
			m.badMethod = true
		}
	}
	if len(w.ID) > 0 && string(w.ID) != "null" {
		var id int64
		if err := json.Unmarshal(w.ID, &id); err == nil {
			m.ID = &id
		}
	}
	return nil
}

// MethodOK reports whether the message carries a usable method name: the key
// was present and held a JSON string. An empty string counts as present (the
// handler lookup for it simply fails later with MethodNotFound).
func (m *Message) MethodOK() bool {
	if m.hasMethod {
		return !m.badMethod
	}
	return m.Method != ""
}

// IsNotification reports whether the message is a notification: a usable
// method and no id.
func (m *Message) IsNotification() bool {
	return m.ID == nil && m.MethodOK()
}

// NewRequest builds a request envelope. params may be nil.
func NewRequest(id int64, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %q: %w", method, err)
	}
	return &Message{ID: &id, Method: method, Params: raw, hasMethod: true}, nil
}

// NewNotification builds a notification envelope. params may be nil.
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %q: %w", method, err)
	}
	return &Message{Method: method, Params: raw, hasMethod: true}, nil
}

// NewResponse builds a success response. A nil result is normalized to an
// empty object so the peer can always tell a success reply from a missing
// field. This conflates "no result" with a legitimately empty one; it is a
// known wart of the wire format, preserved for compatibility.
func NewResponse(id int64, result any) (*Message, error) {
	raw := json.RawMessage("{}")
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		// Typed nils (a nil pointer or nil RawMessage inside the interface)
		// marshal to null; they get the same normalization as a plain nil.
		if len(b) > 0 && string(b) != "null" {
			raw = b
		}
	}
	return &Message{ID: &id, Result: raw}, nil
}

// NewErrorResponse builds a failed response with the given taxonomy code.
func NewErrorResponse(id int64, code int, text string, data any) *Message {
	return &Message{ID: &id, Error: &Error{Code: code, Message: text, Data: data}}
}

// NewParseError builds the reply for a message that was not valid JSON.
// There is no request to correlate against, so the id is fixed to -1.
func NewParseError() *Message {
	return NewErrorResponse(NoID, CodeParseError, "parse error: invalid JSON", nil)
}

// NewInvalidRequest builds the reply for a parsed message whose method is
// missing or not a string.
func NewInvalidRequest(id int64) *Message {
	return NewErrorResponse(id, CodeInvalidRequest, "invalid request: missing or malformed method", nil)
}

// NewMethodNotFound builds the reply for a request naming an unregistered method.
func NewMethodNotFound(id int64, method string) *Message {
	return NewErrorResponse(id, CodeMethodNotFound, fmt.Sprintf("method not found: %q", method), nil)
}

// NewInternalError builds the reply for a handler that failed. The failure
// detail travels as opaque data; the raw error is never leaked as the message.
func NewInternalError(id int64, method string, detail any) *Message {
	return NewErrorResponse(id, CodeInternalError, fmt.Sprintf("internal error in method %q", method), detail)
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}

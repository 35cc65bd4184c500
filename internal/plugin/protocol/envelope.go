// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

type idKind uint8

const (
	idNull idKind = iota
	idString
	idNumber
)

// RequestID is a JSON-RPC id: a string, an integer, or null. The zero value
// is null, which is also what an absent id decodes to.
type RequestID struct {
	kind idKind
	str  string
	num  int64
}

// StringID returns a string request id.
func StringID(s string) RequestID { return RequestID{kind: idString, str: s} }

// NumberID returns an integer request id.
func NumberID(n int64) RequestID { return RequestID{kind: idNumber, num: n} }

// IsNull reports whether the id is null or was absent.
func (id RequestID) IsNull() bool { return id.kind == idNull }

// String renders the id for logs.
func (id RequestID) String() string {
	switch id.kind {
	case idString:
		return id.str
	case idNumber:
		return strconv.FormatInt(id.num, 10)
	default:
		return "null"
	}
}

// MarshalJSON implements json.Marshaler.
func (id RequestID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idString:
		return json.Marshal(id.str)
	case idNumber:
		return []byte(strconv.FormatInt(id.num, 10)), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = RequestID{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("invalid request id: %w", err)
		}
		*id = StringID(s)
		return nil
	default:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("request id must be a string, integer, or null: %s", data)
		}
		*id = NumberID(n)
		return nil
	}
}

// RPCError is the structured error carried by a response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements error.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRPCError builds an RPCError without data.
func NewRPCError(code int, format string, args ...any) *RPCError {
	return &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Request is an inbound plugin request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers exactly one request with either Result or Error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is a one-way host-to-plugin message. It has no id and gets no
// response.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// DecodeRequest parses one line into a request envelope. The line must be a
// JSON object with a string jsonrpc tag and a non-empty method.
func DecodeRequest(line []byte) (Request, error) {
	var wire struct {
		JSONRPC *string         `json:"jsonrpc"`
		ID      RequestID       `json:"id"`
		Method  *string         `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(line, &wire); err != nil {
		return Request{}, fmt.Errorf("invalid JSON-RPC request (%w): %s", err, line)
	}
	if wire.JSONRPC == nil {
		return Request{}, fmt.Errorf("invalid JSON-RPC request (missing field jsonrpc): %s", line)
	}
	if wire.Method == nil || *wire.Method == "" {
		return Request{}, fmt.Errorf("invalid JSON-RPC request (missing field method): %s", line)
	}

	return Request{
		JSONRPC: *wire.JSONRPC,
		ID:      wire.ID,
		Method:  *wire.Method,
		Params:  wire.Params,
	}, nil
}

// NewResultResponse encodes result into a success response.
func NewResultResponse(id RequestID, result any) (Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode JSON-RPC result: %w", err)
	}
	return Response{JSONRPC: JSONRPCVersion, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id RequestID, rpcErr *RPCError) Response {
	return Response{JSONRPC: JSONRPCVersion, ID: id, Error: rpcErr}
}

// NewNotification encodes params into a notification envelope.
func NewNotification(method string, params any) (Notification, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Notification{}, fmt.Errorf("failed to encode notification params: %w", err)
	}
	return Notification{JSONRPC: JSONRPCVersion, Method: method, Params: raw}, nil
}

// paramsValidator is implemented by params types with required fields.
type paramsValidator interface {
	validate() error
}

// DecodeParams decodes request params into dst. Absent or null params are
// treated as an empty object. Failures are returned as invalid-params errors
// ready to send back to the plugin.
func DecodeParams(req Request, dst any) *RPCError {
	raw := bytes.TrimSpace(req.Params)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return NewRPCError(CodeInvalidParams, "invalid params for %s: %v", req.Method, err)
	}
	if v, ok := dst.(paramsValidator); ok {
		if err := v.validate(); err != nil {
			return NewRPCError(CodeInvalidParams, "invalid params for %s: %v", req.Method, err)
		}
	}
	return nil
}

var errMissingField = errors.New("missing field")

func missing(field string) error {
	return fmt.Errorf("%w %s", errMissingField, field)
}

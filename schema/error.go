package schema

import (
	"encoding/json"

	"github.com/viant/jsonrpc"
)

// Gateway error codes on the JSON-RPC plane. Standard codes (-32700..-32603)
// come from the jsonrpc package; these extend them for gateway conditions.
const (
	CodeInsufficientCredits = -32000
	CodeUnauthorized        = -32001
	CodeServiceUnavailable  = -32002

	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// InsufficientCreditsData details a failed credit check.
type InsufficientCreditsData struct {
	Service         string `json:"service"`
	UserCredits     int64  `json:"userCredits"`
	RequiredCredits int64  `json:"requiredCredits"`
	ShortBy         int64  `json:"shortBy"`
}

// NewInsufficientCredits creates the -32000 error for a failed credit check.
func NewInsufficientCredits(service string, userCredits, requiredCredits int64) *jsonrpc.Error {
	data, _ := json.Marshal(&InsufficientCreditsData{
		Service:         service,
		UserCredits:     userCredits,
		RequiredCredits: requiredCredits,
		ShortBy:         requiredCredits - userCredits,
	})
	return &jsonrpc.Error{
		Code:    CodeInsufficientCredits,
		Message: "Insufficient credits",
		Data:    data,
	}
}

// NewUnauthorized creates a -32001 error with an optional JSON detail payload.
func NewUnauthorized(message string, data []byte) *jsonrpc.Error {
	return &jsonrpc.Error{Code: CodeUnauthorized, Message: message, Data: data}
}

// NewServiceUnavailable creates a -32002 error for services that cannot take
// traffic (unpriced, inactive, or with an unreachable collaborator).
func NewServiceUnavailable(message string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: CodeServiceUnavailable, Message: message}
}

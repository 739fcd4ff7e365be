package runner

import (
	"fmt"

	"github.com/vincentmin/table-agent/pkg/conversation"
)

// TurnLimitExceededError is returned when the model keeps requesting tools
// past the turn limit. The partial conversation is kept for inspection.
type TurnLimitExceededError struct {
	Limit        int
	Turns        int
	LastOutput   string
	Conversation *conversation.Conversation
}

func (e *TurnLimitExceededError) Error() string {
	return fmt.Sprintf("turn limit of %d exceeded after %d model calls", e.Limit, e.Turns)
}

// GatewayError wraps a failure of the model backend.
type GatewayError struct {
	Turn int
	Err  error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("model call %d failed: %v", e.Turn, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// UnknownToolError is returned when the model requests a tool that was not declared.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("model requested unknown tool %q", e.Name)
}

package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"statement-relay/internal/dto"

	"github.com/google/uuid"
)

const (
	ActionAnalyze = "analyze"
	ActionSummary = "summary"
)

// Messages sent to the client in error frames.
const (
	msgInvalidFormat   = "Invalid message format"
	msgInvalidUserID   = "Invalid userId format"
	msgUserMismatch    = "userId does not match the authenticated user"
	msgUnknownAction   = "Unknown action: "
	msgNoTransactions  = "No transactions found for this user"
	msgLoadFailed      = "Failed to load transactions"
	msgUpstreamDown    = "Analysis service unavailable"
	msgUpstreamClosed  = "analysis service closed the connection"
	msgRequestTimedOut = "Analysis request timed out"
)

const (
	frameTypeProgress = "progress"
	frameTypeError    = "error"
	frameTypeResult   = "result"
)

// upstreamActionAliases maps the completion names the analysis service uses
// back onto the request actions.
var upstreamActionAliases = map[string]string{
	ActionAnalyze:        ActionAnalyze,
	ActionSummary:        ActionSummary,
	"analysis":           ActionAnalyze,
	"analysis_complete":  ActionAnalyze,
	"summarize":          ActionSummary,
	"summary_complete":   ActionSummary,
	"summarize_complete": ActionSummary,
}

// ClientMessage is one request from the browser.
type ClientMessage struct {
	Action    string `json:"action"`
	UserID    string `json:"userId"`
	RequestID string `json:"requestId,omitempty"`
}

// RelayFrame is everything the relay writes to the client.
type RelayFrame struct {
	Action        string          `json:"action,omitempty"`
	Type          string          `json:"type,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	Message       string          `json:"message,omitempty"`
	Progress      *float64        `json:"progress,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	RequestID     string          `json:"requestId,omitempty"`
}

type upstreamRequest struct {
	Action        string                    `json:"action"`
	UserID        string                    `json:"userId"`
	CorrelationID string                    `json:"correlationId"`
	Transactions  []dto.TransactionResponse `json:"transactions"`
}

type upstreamFrame struct {
	Action        string          `json:"action"`
	Type          string          `json:"type"`
	TaskType      string          `json:"taskType"`
	Result        json.RawMessage `json:"result"`
	Error         json.RawMessage `json:"error"`
	Message       string          `json:"message"`
	Progress      *float64        `json:"progress"`
	CorrelationID string          `json:"correlationId"`
}

func (f *upstreamFrame) isProgress() bool {
	return f.Type == frameTypeProgress
}

func (f *upstreamFrame) isError() bool {
	return f.Type == frameTypeError || (len(f.Error) > 0 && !bytes.Equal(f.Error, []byte("null")))
}

// errorText renders the error field whether upstream sent a string or an object.
func (f *upstreamFrame) errorText() string {
	var s string
	if err := json.Unmarshal(f.Error, &s); err == nil && s != "" {
		return s
	}
	if len(f.Error) > 0 && !bytes.Equal(f.Error, []byte("null")) {
		return string(f.Error)
	}
	if f.Message != "" {
		return f.Message
	}
	return "analysis failed"
}

// canonicalAction returns the request action an upstream frame refers to,
// or "" when it cannot tell.
func (f *upstreamFrame) canonicalAction() string {
	for _, name := range []string{f.Action, f.TaskType} {
		if action, ok := upstreamActionAliases[strings.ToLower(name)]; ok {
			return action
		}
	}
	return ""
}

var errInvalidFrame = errors.New(msgInvalidFormat)

// parseClientFrame accepts a single message object or an array of them.
func parseClientFrame(data []byte) ([]ClientMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errInvalidFrame
	}

	if trimmed[0] == '[' {
		var msgs []ClientMessage
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, errInvalidFrame
		}
		return msgs, nil
	}

	var msg ClientMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, errInvalidFrame
	}
	return []ClientMessage{msg}, nil
}

// validateClientMessage returns the error text for an invalid message, or "".
func validateClientMessage(msg ClientMessage, sessionUser uuid.UUID) string {
	if msg.Action == "" || msg.UserID == "" {
		return msgInvalidFormat
	}
	userID, err := uuid.Parse(msg.UserID)
	if err != nil {
		return msgInvalidUserID
	}
	if userID != sessionUser {
		return msgUserMismatch
	}
	switch msg.Action {
	case ActionAnalyze, ActionSummary:
		return ""
	default:
		return msgUnknownAction + msg.Action
	}
}

package agent

import (
	"encoding/json"
	"strings"

	"github.com/deskwing/deskwing/pkg/models"
)

// parseAgentResponse parses model output against the response contract.
// Models occasionally wrap the object in a markdown fence or lead-in
// prose, so the parser locates the outermost JSON object before decoding.
func parseAgentResponse(requestID, raw string) (*models.AgentResponse, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, &models.ParseError{RequestID: requestID, Raw: raw, Err: errNoJSON}
	}

	var resp models.AgentResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, &models.ParseError{RequestID: requestID, Raw: raw, Err: err}
	}
	if resp.Message == "" {
		return nil, &models.ParseError{RequestID: requestID, Raw: raw, Err: errNoMessage}
	}
	if resp.Intent == "" {
		resp.Intent = "general_question"
	}
	return &resp, nil
}

var (
	errNoJSON    = jsonContractError("no JSON object in model output")
	errNoMessage = jsonContractError("contract field \"message\" empty")
)

type jsonContractError string

func (e jsonContractError) Error() string { return string(e) }

// extractJSON returns the outermost {...} span of raw, fence-stripped.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// fallbackResponse is the safe reply substituted when a first-pass
// response fails the contract. It never escalates and never calls tools.
func fallbackResponse() *models.AgentResponse {
	return &models.AgentResponse{
		Message: "I'm sorry, I had trouble processing that. Could you rephrase your question?",
		Intent:  "general_question",
	}
}

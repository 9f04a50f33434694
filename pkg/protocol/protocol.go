package protocol

import (
	"encoding/json"
	"strings"
	"time"
)

// Command represents a command sent to the core engine
type Command struct {
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Response represents a response from the core engine
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Status represents the current daemon status
type Status struct {
	Displayed int64     `json:"displayed"`
	Confirmed int64     `json:"confirmed"`
	Gain      float32   `json:"gain"`
	Muted     bool      `json:"muted"`
	Running   bool      `json:"running"`
	CatDevice string    `json:"cat_device"`
	Dropped   uint64    `json:"dropped_frames"`
	Uptime    string    `json:"uptime"`
	StartTime time.Time `json:"start_time"`
	Version   string    `json:"version"`
}

// ErrorEvent is one queued error drained by the ERRORS command.
type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}

// ParseCommand parses a text command into a Command struct
func ParseCommand(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	parts := strings.SplitN(text, ":", 2)

	cmd := &Command{
		Type: strings.ToUpper(parts[0]),
		Args: make(map[string]interface{}),
	}

	if len(parts) > 1 {
		args := parts[1]

		switch cmd.Type {
		case CmdFrequency:
			// FREQUENCY:14074000
			cmd.Args["frequency"] = args

		case CmdDigit:
			// DIGIT:3:+1 or DIGIT:3:-1
			digitParts := strings.SplitN(args, ":", 2)
			cmd.Args["position"] = digitParts[0]
			if len(digitParts) > 1 {
				cmd.Args["delta"] = strings.TrimPrefix(digitParts[1], "+")
			}

		case CmdBand:
			// BAND:20
			cmd.Args["band"] = args

		case CmdGain:
			// GAIN:0.75
			cmd.Args["gain"] = args

		case CmdMute:
			// MUTE:on or MUTE:off
			cmd.Args["mute"] = strings.ToLower(args)

		case CmdEvents:
			// EVENTS:50 or EVENTS:kind:TUNE
			if strings.Contains(args, "kind:") {
				kindParts := strings.Split(args, "kind:")
				if len(kindParts) > 1 {
					cmd.Args["kind"] = kindParts[1]
				}
			} else {
				cmd.Args["limit"] = args
			}
		}
	}

	return cmd, nil
}

// FormatResponse converts a Response to JSON string
func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data map[string]interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// Protocol commands
const (
	CmdStatus    = "STATUS"
	CmdFrequency = "FREQUENCY"
	CmdDigit     = "DIGIT"
	CmdBand      = "BAND"
	CmdGain      = "GAIN"
	CmdMute      = "MUTE"
	CmdMeter     = "METER"
	CmdErrors    = "ERRORS"
	CmdEvents    = "EVENTS"
	CmdQuit      = "QUIT"
	CmdPing      = "PING"
)

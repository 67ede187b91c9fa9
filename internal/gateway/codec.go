package gateway

import (
	"encoding/json"
	"fmt"
	"io"
)

// Frame is one newline-terminated request from a client.
type Frame struct {
	Type    int             `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ResponsePayload wraps every reply body. Exactly one of Output and
// Error is meaningful; Error is null on success.
type ResponsePayload struct {
	Output interface{} `json:"output"`
	Error  *string     `json:"error"`
}

// Response is one newline-terminated reply. Type echoes the request
// frame type so clients can match replies to requests.
type Response struct {
	Type    int             `json:"type"`
	Status  int             `json:"status"`
	Payload ResponsePayload `json:"payload"`
}

func okResponse(frameType int, output interface{}) *Response {
	return &Response{
		Type:    frameType,
		Status:  StatusOK,
		Payload: ResponsePayload{Output: output},
	}
}

func errorResponse(frameType, status int, message string) *Response {
	return &Response{
		Type:    frameType,
		Status:  status,
		Payload: ResponsePayload{Error: &message},
	}
}

// decodeFrame parses a request line. The payload stays raw so the
// handler can bind it to the opcode's own struct.
func decodeFrame(line []byte) (*Frame, error) {
	frame := &Frame{}
	if err := json.Unmarshal(line, frame); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	return frame, nil
}

// writeResponse marshals one reply and terminates it with a newline.
func writeResponse(w io.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

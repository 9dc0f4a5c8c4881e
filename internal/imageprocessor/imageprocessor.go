// Package imageprocessor defines the background removal contract shared by the
// gateway, the audit usecase and the session controller.
package imageprocessor

import (
	"context"
	"encoding/json"
)

// Input is the request body sent to the remote background removal model.
type Input struct {
	ImageURL            string `json:"image_url"`
	Model               string `json:"model"`
	OperatingResolution string `json:"operating_resolution"`
	OutputFormat        string `json:"output_format"`
}

// File describes an artifact produced by the remote model.
type File struct {
	URL         string `json:"url"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
}

// Result is the model output. Raw keeps the payload exactly as received so
// metadata the model echoes back is not lost.
type Result struct {
	Image File            `json:"image"`
	Raw   json.RawMessage `json:"-"`
}

// MarshalJSON emits Raw verbatim when present.
func (r Result) MarshalJSON() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	type plain Result
	return json.Marshal(plain(r))
}

// UnmarshalJSON decodes the known fields and keeps a copy of the payload in Raw.
func (r *Result) UnmarshalJSON(data []byte) error {
	type plain Result
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Result(p)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// ParseResult decodes a model payload.
func ParseResult(raw []byte) (*Result, error) {
	res := &Result{}
	if err := json.Unmarshal(raw, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Client removes the background from a data-URI encoded image.
type Client interface {
	RemoveBackground(ctx context.Context, imageData string) (*Result, error)
}

// Package datauri converts between raw image bytes and RFC 2397 data URIs.
package datauri

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	scheme           = "data:"
	defaultMediaType = "text/plain;charset=US-ASCII"
)

var (
	ErrEmpty     = errors.New("data uri is empty")
	ErrMalformed = errors.New("data uri is malformed")
)

// DataURI is a decoded data URI.
type DataURI struct {
	MediaType string
	Params    map[string]string
	Data      []byte
}

// Parse decodes s. It fails with ErrEmpty for blank input or an empty payload
// and with ErrMalformed for anything that is not a data URI.
func Parse(s string) (*DataURI, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmpty
	}
	if len(s) < len(scheme) || !strings.EqualFold(s[:len(scheme)], scheme) {
		return nil, fmt.Errorf("%w: missing %q scheme", ErrMalformed, scheme)
	}

	header, payload, ok := strings.Cut(s[len(scheme):], ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing comma", ErrMalformed)
	}

	isBase64 := false
	if strings.HasSuffix(strings.ToLower(header), ";base64") {
		isBase64 = true
		header = header[:len(header)-len(";base64")]
	}

	mediaType, params := defaultMediaType, map[string]string{}
	if header != "" {
		mt, p, err := mime.ParseMediaType(header)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		mediaType, params = mt, p
	}

	var data []byte
	if isBase64 {
		decoded, err := decodeBase64(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		data = []byte(unescaped)
	}

	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return &DataURI{MediaType: mediaType, Params: params, Data: data}, nil
}

// browsers sometimes drop padding or use the URL alphabet
func decodeBase64(payload string) ([]byte, error) {
	payload = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, payload)

	if data, err := base64.StdEncoding.DecodeString(payload); err == nil {
		return data, nil
	}
	trimmed := strings.TrimRight(payload, "=")
	if data, err := base64.RawStdEncoding.DecodeString(trimmed); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(trimmed)
}

// Encode renders data as a base64 data URI.
func Encode(mediaType string, data []byte) string {
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return scheme + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// FromReader reads r fully and encodes it, sniffing the media type from the content.
func FromReader(r io.Reader) (string, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) == 0 {
		return "", nil, ErrEmpty
	}
	mt := mimetype.Detect(data)
	mediaType, _, _ := mime.ParseMediaType(mt.String())
	return Encode(mediaType, data), data, nil
}

// Extension returns a file extension for the media type, including the dot.
func Extension(mediaType string) string {
	if mt := mimetype.Lookup(mediaType); mt != nil && mt.Extension() != "" {
		return mt.Extension()
	}
	return ".bin"
}

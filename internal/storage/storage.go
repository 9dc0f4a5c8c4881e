// Package storage stages image bytes on a remote object store and returns a
// publicly fetchable URL for them.
package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
)

var ErrMissingCredential = errors.New("storage credential is not configured")

// Object is one blob to upload.
type Object struct {
	Name        string
	ContentType string
	Data        []byte
}

func (o Object) reader() io.Reader {
	return bytes.NewReader(o.Data)
}

// Uploader uploads an Object and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, obj Object) (string, error)
}

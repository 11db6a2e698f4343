package wbh

import (
	"context"
	"io"
)

// RemoteHandle identifies an uploaded document on the remote side.
// MessageID is the message that carries the document; BlobID is what
// Fetch accepts to retrieve the bytes.
type RemoteHandle struct {
	MessageID string
	BlobID    string
}

// Document is a named byte stream handed to a Transport.
type Document struct {
	Name    string
	Size    int64
	Body    io.Reader
	Caption string
}

// Transport is the message-oriented remote object store chunks live on.
// Failures are reported wrapped with ErrTransport.
type Transport interface {
	// Upload sends doc to destination and returns its durable handles.
	Upload(ctx context.Context, destination string, doc Document) (RemoteHandle, error)

	// Fetch writes the document identified by blobID to w.
	Fetch(ctx context.Context, blobID string, w io.Writer) error

	// PostMessage publishes a plain text message and returns its message id.
	PostMessage(ctx context.Context, destination string, text string) (string, error)

	// MessageLimit is the largest text, in characters, PostMessage accepts.
	MessageLimit() int
}

package messenger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Envelope types published by Outbox.
const (
	EnvelopeSend = "send"
	EnvelopeEdit = "edit"
	EnvelopeFile = "file"
)

// Publisher delivers a JSON-serialisable payload to a topic or subject.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore stores file contents and returns a URI the requester can fetch.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Hasher digests file contents.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator mints message identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Envelope is the wire form of one outbound operation.
type Envelope struct {
	Type      string    `json:"type"`
	Owner     string    `json:"owner"`
	MessageID string    `json:"message_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Buttons   []Button  `json:"buttons,omitempty"`
	File      *FileRef  `json:"file,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// FileRef points at an uploaded artifact.
type FileRef struct {
	Name   string `json:"name"`
	URI    string `json:"uri"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// OutboxConfig controls topic and object naming.
type OutboxConfig struct {
	// TopicPrefix is joined with the owner to form the publish topic.
	TopicPrefix string
	// ObjectPrefix namespaces uploaded files inside the blob store.
	ObjectPrefix string
}

// Outbox implements Messenger on top of a message bus: texts become envelopes,
// files are uploaded to a blob store and announced by reference.
type Outbox struct {
	cfg       OutboxConfig
	publisher Publisher
	blobs     BlobStore
	hasher    Hasher
	ids       IDGenerator
	logger    *zap.Logger
}

// NewOutbox wires an Outbox.
func NewOutbox(
	cfg OutboxConfig,
	publisher Publisher,
	blobs BlobStore,
	hasher Hasher,
	ids IDGenerator,
	logger *zap.Logger,
) (*Outbox, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if hasher == nil || ids == nil {
		return nil, errors.New("hasher and id generator are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "courier.outbound"
	}
	if cfg.ObjectPrefix == "" {
		cfg.ObjectPrefix = "artifacts"
	}
	return &Outbox{
		cfg:       cfg,
		publisher: publisher,
		blobs:     blobs,
		hasher:    hasher,
		ids:       ids,
		logger:    logger,
	}, nil
}

// Send publishes a new message and returns its generated id.
func (o *Outbox) Send(ctx context.Context, owner, text string, buttons []Button) (string, error) {
	id, err := o.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("message id: %w", err)
	}
	env := Envelope{Type: EnvelopeSend, Owner: owner, MessageID: id, Text: text, Buttons: buttons}
	if err := o.publish(ctx, env); err != nil {
		return "", err
	}
	return id, nil
}

// Edit publishes a replacement for a previously sent message.
func (o *Outbox) Edit(ctx context.Context, owner, messageID, text string, buttons []Button) error {
	if messageID == "" {
		return errors.New("message id is required")
	}
	return o.publish(ctx, Envelope{
		Type:      EnvelopeEdit,
		Owner:     owner,
		MessageID: messageID,
		Text:      text,
		Buttons:   buttons,
	})
}

// SendFile uploads the file and publishes a reference to it.
func (o *Outbox) SendFile(ctx context.Context, owner, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	digest, err := o.hasher.Hash(data)
	if err != nil {
		return fmt.Errorf("hash artifact: %w", err)
	}
	name := filepath.Base(filePath)
	key := path.Join(o.cfg.ObjectPrefix, sanitizeSegment(owner), digest[:min(len(digest), 16)], name)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	uri, err := o.blobs.PutObject(ctx, key, contentType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}
	o.logger.Debug("artifact uploaded", zap.String("owner", owner), zap.String("uri", uri))
	return o.publish(ctx, Envelope{
		Type:  EnvelopeFile,
		Owner: owner,
		File: &FileRef{
			Name:   name,
			URI:    uri,
			SHA256: digest,
			Size:   int64(len(data)),
		},
	})
}

func (o *Outbox) publish(ctx context.Context, env Envelope) error {
	env.SentAt = time.Now().UTC()
	topic := o.cfg.TopicPrefix + "." + sanitizeSegment(env.Owner)
	if _, err := o.publisher.Publish(ctx, topic, env); err != nil {
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}
	return nil
}

// sanitizeSegment keeps owners usable as NATS subject tokens and object keys.
func sanitizeSegment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', '/', '\\', ' ', '\t', '\n':
			return '_'
		default:
			return r
		}
	}, s)
}

package messenger_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lms-courier/internal/hash/sha256"
	"github.com/JakeFAU/lms-courier/internal/messenger"
	"github.com/JakeFAU/lms-courier/internal/publisher/memory"
	blobmemory "github.com/JakeFAU/lms-courier/internal/storage/memory"
)

// --- fakes ---

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

func newOutbox(t *testing.T) (*messenger.Outbox, *memory.Publisher, *blobmemory.BlobStore) {
	t.Helper()
	pub := memory.New()
	blobs := blobmemory.NewBlobStore()
	box, err := messenger.NewOutbox(messenger.OutboxConfig{TopicPrefix: "out"}, pub, blobs, sha256.New(), &seqIDs{}, nil)
	require.NoError(t, err)
	return box, pub, blobs
}

func decode(t *testing.T, data []byte) messenger.Envelope {
	t.Helper()
	var env messenger.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// TestOutboxSendAndEdit ensures texts and buttons are published per owner.
func TestOutboxSendAndEdit(t *testing.T) {
	t.Parallel()

	box, pub, _ := newOutbox(t)
	ctx := context.Background()

	id, err := box.Send(ctx, "42", "hello", []messenger.Button{{Text: "Abort", Data: "abort_j"}})
	require.NoError(t, err)
	assert.Equal(t, "id-1", id)
	require.NoError(t, box.Edit(ctx, "42", id, "hello 2", nil))
	require.Error(t, box.Edit(ctx, "42", "", "x", nil))

	msgs := pub.Topic("out.42")
	require.Len(t, msgs, 2)
	first := decode(t, msgs[0].Data)
	assert.Equal(t, messenger.EnvelopeSend, first.Type)
	assert.Equal(t, "abort_j", first.Buttons[0].Data)
	second := decode(t, msgs[1].Data)
	assert.Equal(t, messenger.EnvelopeEdit, second.Type)
	assert.Equal(t, id, second.MessageID)
	assert.Equal(t, "hello 2", second.Text)
}

// TestOutboxSendFile ensures files are uploaded and announced with a digest.
func TestOutboxSendFile(t *testing.T) {
	t.Parallel()

	box, pub, blobs := newOutbox(t)
	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	require.NoError(t, box.SendFile(context.Background(), "a.b", path))

	msgs := pub.Topic("out.a_b")
	require.Len(t, msgs, 1)
	env := decode(t, msgs[0].Data)
	require.NotNil(t, env.File)
	assert.Equal(t, "report.pdf", env.File.Name)
	assert.Equal(t, int64(11), env.File.Size)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", env.File.SHA256)

	keys := blobs.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, "memory://"+keys[0], env.File.URI)
	_, contentType, _ := blobs.Get(keys[0])
	assert.Equal(t, "application/pdf", contentType)
}

func TestOutboxErrors(t *testing.T) {
	t.Parallel()

	box, pub, _ := newOutbox(t)
	ctx := context.Background()

	require.Error(t, box.SendFile(ctx, "1", filepath.Join(t.TempDir(), "missing.pdf")))

	boom := errors.New("boom")
	pub.FailNext(boom)
	_, err := box.Send(ctx, "1", "x", nil)
	require.ErrorIs(t, err, boom)

	_, err = messenger.NewOutbox(messenger.OutboxConfig{}, nil, nil, nil, nil, nil)
	require.Error(t, err)
}

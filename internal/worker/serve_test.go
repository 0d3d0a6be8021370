package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lms-courier/internal/task"
)

func startLine(t *testing.T, in task.Input) string {
	t.Helper()
	b, err := json.Marshal(Control{Op: OpStart, Spec: &in})
	require.NoError(t, err)
	return string(b) + "\n"
}

func decodeResult(t *testing.T, b []byte) Result {
	t.Helper()
	var r Result
	require.NoError(t, json.Unmarshal(b, &r))
	return r
}

func TestServeOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		runner task.RunnerFunc
		want   Result
	}{
		{
			name: "ok",
			runner: func(_ context.Context, in task.Input) ([]string, error) {
				return []string{in.OutputDir + "/a.pdf"}, nil
			},
			want: OK([]string{"/out/a.pdf"}),
		},
		{
			name: "error",
			runner: func(context.Context, task.Input) ([]string, error) {
				return nil, errors.New("login failed")
			},
			want: Result{Kind: KindErr, Error: "login failed"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			line := startLine(t, task.Input{Target: "https://lms", OutputDir: "/out"})
			control, w := io.Pipe()
			go func() {
				_, _ = io.WriteString(w, line)
			}()
			defer func() { _ = w.Close() }()

			var out bytes.Buffer
			require.NoError(t, Serve(context.Background(), control, &out, tc.runner, nil))
			assert.Equal(t, tc.want, decodeResult(t, out.Bytes()))
		})
	}
}

// TestServeCancel ensures a cancel line reaches the task and is acknowledged
// as Cancelled rather than as a failure.
func TestServeCancel(t *testing.T) {
	t.Parallel()

	line := startLine(t, task.Input{Target: "https://lms"})
	control, w := io.Pipe()
	go func() {
		_, _ = io.WriteString(w, line)
		time.Sleep(10 * time.Millisecond)
		_, _ = io.WriteString(w, `{"op":"cancel"}`+"\n")
	}()
	defer func() { _ = w.Close() }()

	var cause error
	runner := task.RunnerFunc(func(ctx context.Context, _ task.Input) ([]string, error) {
		<-ctx.Done()
		cause = context.Cause(ctx)
		return nil, ctx.Err()
	})

	var out bytes.Buffer
	require.NoError(t, Serve(context.Background(), control, &out, runner, nil))
	assert.Equal(t, KindCancelled, decodeResult(t, out.Bytes()).Kind)
	assert.ErrorIs(t, cause, ErrCancelRequested)
}

func TestServeControlEOFCancels(t *testing.T) {
	t.Parallel()

	control := strings.NewReader(startLine(t, task.Input{Target: "x"}))
	runner := task.RunnerFunc(func(ctx context.Context, _ task.Input) ([]string, error) {
		<-ctx.Done()
		return nil, context.Cause(ctx)
	})

	var out bytes.Buffer
	require.NoError(t, Serve(context.Background(), control, &out, runner, nil))
	assert.Equal(t, KindCancelled, decodeResult(t, out.Bytes()).Kind)
}

func TestServeBadControl(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := Serve(context.Background(), strings.NewReader(`{"op":"cancel"}`+"\n"), &out, nil, nil)
	require.Error(t, err)
	assert.Equal(t, KindErr, decodeResult(t, out.Bytes()).Kind)

	out.Reset()
	err = Serve(context.Background(), strings.NewReader(""), &out, nil, nil)
	require.Error(t, err)
	assert.Equal(t, KindErr, decodeResult(t, out.Bytes()).Kind)
}

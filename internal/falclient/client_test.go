package falclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeQueue struct {
	t            *testing.T
	server       *httptest.Server
	pendingPolls int32
	statusError  string
	resultStatus int
	result       string
	polls        int32
	cancels      int32
	submitted    map[string]any
}

func newFakeQueue(t *testing.T) *fakeQueue {
	q := &fakeQueue{t: t, resultStatus: http.StatusOK, result: `{"image":{"url":"https://x/out.png","width":1024}}`}
	mux := http.NewServeMux()
	mux.HandleFunc("/fal-ai/birefnet", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Key secret", r.Header.Get("Authorization"))
		if r.ContentLength != 0 {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&q.submitted))
		}
		_, _ = w.Write([]byte(`{"request_id":"req-1"}`))
	})
	mux.HandleFunc("/fal-ai/birefnet/requests/req-1/status", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&q.polls, 1)
		if n <= atomic.LoadInt32(&q.pendingPolls) {
			_, _ = w.Write([]byte(`{"status":"IN_QUEUE","queue_position":0}`))
			return
		}
		if q.statusError != "" {
			_, _ = w.Write([]byte(`{"status":"COMPLETED","error":"` + q.statusError + `"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"COMPLETED"}`))
	})
	mux.HandleFunc("/fal-ai/birefnet/requests/req-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(q.resultStatus)
		_, _ = w.Write([]byte(q.result))
	})
	mux.HandleFunc("/fal-ai/birefnet/requests/req-1/cancel", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&q.cancels, 1)
		w.WriteHeader(http.StatusAccepted)
	})
	q.server = httptest.NewServer(mux)
	t.Cleanup(q.server.Close)
	return q
}

var testInput = map[string]string{"image_url": "https://x/in.png"}

func (q *fakeQueue) client(timeout time.Duration) *Client {
	return New(Options{
		QueueURL:     q.server.URL,
		Credential:   "secret",
		Timeout:      timeout,
		PollInterval: 5 * time.Millisecond,
	}, zap.NewNop())
}

func TestRunPollsUntilCompleted(t *testing.T) {
	q := newFakeQueue(t)
	q.pendingPolls = 2

	out, err := q.client(time.Second).Run(context.Background(), "fal-ai/birefnet", testInput)
	require.NoError(t, err)
	assert.JSONEq(t, `{"image":{"url":"https://x/out.png","width":1024}}`, string(out))
	assert.Equal(t, int32(3), atomic.LoadInt32(&q.polls))
	assert.Equal(t, "https://x/in.png", q.submitted["image_url"])
}

func TestRunMissingCredential(t *testing.T) {
	c := New(Options{QueueURL: "http://unused.invalid"}, zap.NewNop())
	_, err := c.Run(context.Background(), "fal-ai/birefnet", nil)
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestRunJobErrorInStatus(t *testing.T) {
	q := newFakeQueue(t)
	q.statusError = "unsupported image"

	_, err := q.client(time.Second).Run(context.Background(), "fal-ai/birefnet", testInput)
	require.ErrorIs(t, err, ErrJobFailed)
	assert.Contains(t, err.Error(), "unsupported image")
}

func TestRunResultFailure(t *testing.T) {
	q := newFakeQueue(t)
	q.resultStatus = http.StatusUnprocessableEntity
	q.result = `{"detail":"could not decode image"}`

	_, err := q.client(time.Second).Run(context.Background(), "fal-ai/birefnet", testInput)
	require.ErrorIs(t, err, ErrJobFailed)
	assert.Contains(t, err.Error(), "422")
}

func TestRunTimesOutAndCancelsJob(t *testing.T) {
	q := newFakeQueue(t)
	q.pendingPolls = 1 << 20

	_, err := q.client(50*time.Millisecond).Run(context.Background(), "fal-ai/birefnet", testInput)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(1), atomic.LoadInt32(&q.cancels))
}

func TestRunCallerCancellationIsNotTimeout(t *testing.T) {
	q := newFakeQueue(t)
	q.pendingPolls = 1 << 20

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := q.client(time.Minute).Run(ctx, "fal-ai/birefnet", testInput)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&q.cancels))
}

func TestRunWithoutInputSubmitsEmptyBody(t *testing.T) {
	q := newFakeQueue(t)

	out, err := q.client(time.Second).Run(context.Background(), "fal-ai/birefnet", nil)
	require.NoError(t, err)
	assert.Contains(t, string(out), "https://x/out.png")
	assert.Nil(t, q.submitted)
}

func TestAppID(t *testing.T) {
	assert.Equal(t, "fal-ai/birefnet", appID("fal-ai/birefnet"))
	assert.Equal(t, "fal-ai/birefnet", appID("/fal-ai/birefnet/v2/"))
	assert.Equal(t, "solo", appID("solo"))
}

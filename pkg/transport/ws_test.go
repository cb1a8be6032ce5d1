package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"starbench/internal/model"
	"starbench/pkg/workerkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEchoWorker(t *testing.T) *workerkit.Server {
	t.Helper()
	srv := workerkit.NewServer(func(ctx context.Context, command string, args json.RawMessage) (json.RawMessage, *model.CommandError) {
		switch command {
		case "run_compute":
			// Slow command, used by the timeout test.
			time.Sleep(300 * time.Millisecond)
			return json.RawMessage(`{"fluxes": []}`), nil
		case "set_parameter":
			var p struct {
				Twig string `json:"twig"`
			}
			if err := json.Unmarshal(args, &p); err != nil || p.Twig == "" {
				return nil, &model.CommandError{Code: "bad_parameter", Message: "twig is required"}
			}
			return json.RawMessage(`{"ok": true}`), nil
		default:
			return json.RawMessage(fmt.Sprintf(`{"echo": %q}`, command)), nil
		}
	})
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func TestCallRoundTrip(t *testing.T) {
	srv := startEchoWorker(t)
	ch, err := NewWSDialer().Dial(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	defer ch.Close()

	reply, err := ch.Call(context.Background(), &model.CommandRequest{
		CorrelationID: "corr-1",
		Command:       "status",
	})
	require.NoError(t, err)
	assert.Equal(t, "corr-1", reply.CorrelationID)
	assert.Equal(t, model.ReplyStatusOK, reply.Status)
	assert.JSONEq(t, `{"echo": "status"}`, string(reply.Result))
}

func TestCallDomainErrorPassedThrough(t *testing.T) {
	srv := startEchoWorker(t)
	ch, err := NewWSDialer().Dial(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	defer ch.Close()

	reply, err := ch.Call(context.Background(), &model.CommandRequest{
		CorrelationID: "corr-2",
		Command:       "set_parameter",
		Args:          json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, model.ReplyStatusDomainError, reply.Status)
	require.NotNil(t, reply.Error)
	assert.Equal(t, "bad_parameter", reply.Error.Code)
}

func TestCallDeadline(t *testing.T) {
	srv := startEchoWorker(t)
	ch, err := NewWSDialer().Dial(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = ch.Call(ctx, &model.CommandRequest{
		CorrelationID: "corr-3",
		Command:       "run_compute",
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentCallsInterleaveByCorrelationID(t *testing.T) {
	srv := startEchoWorker(t)
	dialer := NewWSDialer()

	// Distinct workers on a shared transport type: each channel pairs
	// replies to its own requests.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ch, err := dialer.Dial(context.Background(), srv.Endpoint())
			if !assert.NoError(t, err) {
				return
			}
			defer ch.Close()
			for j := 0; j < 5; j++ {
				corr := fmt.Sprintf("corr-%d-%d", n, j)
				reply, err := ch.Call(context.Background(), &model.CommandRequest{
					CorrelationID: corr,
					Command:       "status",
				})
				if assert.NoError(t, err) {
					assert.Equal(t, corr, reply.CorrelationID)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestPeerLossFailsPendingCalls(t *testing.T) {
	srv := startEchoWorker(t)
	ch, err := NewWSDialer().Dial(context.Background(), srv.Endpoint())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, callErr := ch.Call(context.Background(), &model.CommandRequest{
			CorrelationID: "corr-4",
			Command:       "run_compute",
		})
		done <- callErr
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, srv.Stop())

	select {
	case callErr := <-done:
		assert.ErrorIs(t, callErr, ErrChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call did not fail after peer loss")
	}
	assert.True(t, ch.Closed())
}

func TestCorrelationConflictRejected(t *testing.T) {
	srv := startEchoWorker(t)
	ch, err := NewWSDialer().Dial(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	defer ch.Close()

	started := make(chan struct{})
	go func() {
		close(started)
		ch.Call(context.Background(), &model.CommandRequest{
			CorrelationID: "corr-dup",
			Command:       "run_compute",
		})
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	_, err = ch.Call(context.Background(), &model.CommandRequest{
		CorrelationID: "corr-dup",
		Command:       "status",
	})
	assert.ErrorIs(t, err, ErrCorrelationConflict)
}

package cluster

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenderReceiver_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	s := NewSender(&buf)

	m, err := NewMessage(MessageMetrics, 2, MetricsReport{WorkerID: 2, PID: 42, RequestCount: 7, ErrorCount: 1})
	require.NoError(t, err)
	require.NoError(t, s.Send(m))

	shutdown, err := NewMessage(MessageShutdown, 2, nil)
	require.NoError(t, err)
	require.NoError(t, s.Send(shutdown))

	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	r := NewReceiver(&buf)
	got, err := r.Receive()
	require.NoError(t, err)
	assert.Equal(t, MessageMetrics, got.Type)
	assert.Equal(t, 2, got.WorkerID)

	var rep MetricsReport
	require.NoError(t, got.Decode(&rep))
	assert.Equal(t, int64(7), rep.RequestCount)
	assert.Equal(t, int64(1), rep.ErrorCount)
	assert.Equal(t, 42, rep.PID)

	got, err = r.Receive()
	require.NoError(t, err)
	assert.Equal(t, MessageShutdown, got.Type)
	assert.Error(t, got.Decode(&rep), "shutdown carries no data")

	_, err = r.Receive()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReceiver_MalformedLineDoesNotBreakStream(t *testing.T) {
	in := "not json\n\n{\"worker_id\":1}\n{\"type\":\"health\",\"worker_id\":1}\n"
	r := NewReceiver(strings.NewReader(in))

	_, err := r.Receive()
	var bad *MalformedError
	require.True(t, errors.As(err, &bad))
	assert.Equal(t, "not json", string(bad.Line))

	_, err = r.Receive()
	require.True(t, errors.As(err, &bad), "envelope without type is malformed")

	m, err := r.Receive()
	require.NoError(t, err)
	assert.Equal(t, MessageHealth, m.Type)

	_, err = r.Receive()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReceiver_LastLineWithoutNewline(t *testing.T) {
	r := NewReceiver(strings.NewReader(`{"type":"shutdown","worker_id":3}`))
	m, err := r.Receive()
	require.NoError(t, err)
	assert.Equal(t, MessageShutdown, m.Type)
	assert.Equal(t, 3, m.WorkerID)
}

func TestSender_ConcurrentLinesStayWhole(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewSender(pw)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, _ := NewMessage(MessageHealth, i, HealthReport{WorkerID: i, Status: StatusHealthy})
			_ = s.Send(m)
		}(i)
	}
	go func() {
		wg.Wait()
		_ = pw.Close()
	}()

	r := NewReceiver(pr)
	seen := map[int]bool{}
	for {
		m, err := r.Receive()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		seen[m.WorkerID] = true
	}
	assert.Len(t, seen, n)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestSender_WriteError(t *testing.T) {
	m, _ := NewMessage(MessageShutdown, 1, nil)
	assert.ErrorIs(t, NewSender(failingWriter{}).Send(m), io.ErrClosedPipe)
}

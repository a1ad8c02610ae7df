package terminal

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellcoach/backend/internal/infrastructure/logging"
)

func testPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	cfg.Shell = "/bin/bash"
	p := NewPool(cfg, logging.NewNop())
	t.Cleanup(p.Shutdown)
	return p
}

// collect drains output chunks until the predicate matches or the deadline passes.
func collect(t *testing.T, out <-chan []byte, match []byte, timeout time.Duration) []byte {
	t.Helper()
	var buf bytes.Buffer
	deadline := time.After(timeout)
	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				return buf.Bytes()
			}
			buf.Write(chunk)
			if bytes.Contains(buf.Bytes(), match) {
				return buf.Bytes()
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q in output: %q", match, buf.String())
		}
	}
}

func TestCreateWriteOutput(t *testing.T) {
	p := testPool(t, DefaultConfig())

	hid, err := p.Create(80, 24)
	require.NoError(t, err)
	require.True(t, p.Exists(hid))
	assert.Equal(t, 1, p.Count())

	out, ok := p.Output(hid)
	require.True(t, ok)

	require.True(t, p.Write(hid, []byte("echo shellcoach-marker\r")))
	collect(t, out, []byte("shellcoach-marker"), 10*time.Second)
}

func TestUnknownHandleOps(t *testing.T) {
	p := testPool(t, DefaultConfig())

	assert.False(t, p.Write("term_missing", []byte("x")))
	assert.False(t, p.Resize("term_missing", 100, 40))
	assert.False(t, p.Destroy("term_missing"))
	assert.False(t, p.Exists("term_missing"))
	assert.False(t, p.DemoType(context.Background(), "term_missing", "ls", 0, true))

	_, ok := p.Output("term_missing")
	assert.False(t, ok)
}

func TestDestroyDeliversExit(t *testing.T) {
	p := testPool(t, DefaultConfig())

	hid, err := p.Create(0, 0)
	require.NoError(t, err)

	exit, ok := p.Exit(hid)
	require.True(t, ok)

	require.True(t, p.Destroy(hid))
	assert.False(t, p.Exists(hid))

	select {
	case <-exit:
		// Exit code after a kill is platform-dependent; delivery is what matters.
	case <-time.After(10 * time.Second):
		t.Fatal("no exit event after destroy")
	}

	// Idempotent: a second destroy is a no-op.
	assert.False(t, p.Destroy(hid))
}

func TestShellExitRemovesHandle(t *testing.T) {
	p := testPool(t, DefaultConfig())

	hid, err := p.Create(80, 24)
	require.NoError(t, err)

	exit, _ := p.Exit(hid)
	require.True(t, p.Write(hid, []byte("exit\r")))

	select {
	case <-exit:
	case <-time.After(10 * time.Second):
		t.Fatal("no exit event after shell exit")
	}

	assert.Eventually(t, func() bool { return !p.Exists(hid) }, 5*time.Second, 50*time.Millisecond)
}

func TestDemoTypeWritesCommand(t *testing.T) {
	p := testPool(t, DefaultConfig())

	hid, err := p.Create(80, 24)
	require.NoError(t, err)
	out, _ := p.Output(hid)

	ok := p.DemoType(context.Background(), hid, "echo demo-done", time.Millisecond, true)
	require.True(t, ok)
	collect(t, out, []byte("demo-done"), 10*time.Second)
}

func TestDemoTypeCanceled(t *testing.T) {
	p := testPool(t, DefaultConfig())

	hid, err := p.Create(80, 24)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, p.DemoType(ctx, hid, "echo never", 50*time.Millisecond, true))
}

func TestResize(t *testing.T) {
	p := testPool(t, DefaultConfig())

	hid, err := p.Create(80, 24)
	require.NoError(t, err)

	require.True(t, p.Resize(hid, 120, 40))
	info, ok := p.Get(hid)
	require.True(t, ok)
	assert.Equal(t, 120, info.Cols)
	assert.Equal(t, 40, info.Rows)
}

func TestIdleReaping(t *testing.T) {
	cfg := Config{
		IdleTimeout:   200 * time.Millisecond,
		SweepInterval: 50 * time.Millisecond,
	}
	p := testPool(t, cfg)

	hid, err := p.Create(80, 24)
	require.NoError(t, err)

	// Drain the prompt output so the test owns the channel.
	out, _ := p.Output(hid)
	go func() {
		for range out {
		}
	}()

	assert.Eventually(t, func() bool { return !p.Exists(hid) }, 10*time.Second, 50*time.Millisecond,
		"idle handle should be reaped")

	// Operations against the reaped handle become no-ops.
	assert.False(t, p.Write(hid, []byte("x")))
}

package script

import (
	"context"
	"testing"
	"time"

	"github.com/deepnoodle-ai/runnel/log"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	log.NullLogger
	infos  []string
	errors []string
}

func (l *recordingLogger) Info(msg string, args ...any) {
	l.infos = append(l.infos, argValue(args, "message"))
}

func (l *recordingLogger) Error(msg string, args ...any) {
	l.errors = append(l.errors, argValue(args, "message"))
}

func argValue(args []any, key string) string {
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == key {
			s, _ := args[i+1].(string)
			return s
		}
	}
	return ""
}

func TestSandboxReturnsValue(t *testing.T) {
	sb := New(Options{})
	result, err := sb.Run(context.Background(), `return data.a + data.b`, Bindings{
		Data: map[string]any{"a": 2, "b": 3},
	})
	require.NoError(t, err)
	require.EqualValues(t, 5, result)
}

func TestSandboxSeesResults(t *testing.T) {
	sb := New(Options{})
	result, err := sb.Run(context.Background(), `
		status := results["h"]["status"]
		return {"ok": status == 200, "name": data["name"]}
	`, Bindings{
		Data:    map[string]any{"name": "Ada"},
		Results: map[string]any{"h": map[string]any{"status": 200}},
	})
	require.NoError(t, err)
	m, ok := result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, m["ok"])
	require.Equal(t, "Ada", m["name"])
}

func TestSandboxWithoutReturn(t *testing.T) {
	sb := New(Options{})
	result, err := sb.Run(context.Background(), `x := 1`, Bindings{})
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestSandboxConsole(t *testing.T) {
	logger := &recordingLogger{}
	sb := New(Options{})
	_, err := sb.Run(context.Background(), `
		console.log("hello", 42)
		console.error("bad thing")
	`, Bindings{Logger: logger})
	require.NoError(t, err)
	require.Equal(t, []string{"hello 42"}, logger.infos)
	require.Equal(t, []string{"bad thing"}, logger.errors)
}

func TestSandboxModules(t *testing.T) {
	sb := New(Options{})
	result, err := sb.Run(context.Background(), `
		encoded := json.marshal({"n": math.abs(-3)})
		return encoded
	`, Bindings{})
	require.NoError(t, err)
	require.Equal(t, `{"n":3}`, result)
}

func TestSandboxCannotReachHost(t *testing.T) {
	sb := New(Options{})
	for _, source := range []string{
		`return os.getenv("HOME")`,
		`return exec.command("ls")`,
		`return http.get("https://example.com")`,
		`import os`,
	} {
		_, err := sb.Run(context.Background(), source, Bindings{})
		require.Error(t, err, source)
	}
}

func TestSandboxScriptError(t *testing.T) {
	sb := New(Options{})
	_, err := sb.Run(context.Background(), `return undefined_name + 1`, Bindings{})
	require.Error(t, err)

	_, err = sb.Run(context.Background(), `return (`, Bindings{})
	require.Error(t, err)
}

func TestSandboxDataIsCopied(t *testing.T) {
	data := map[string]any{"n": 1}
	sb := New(Options{})
	_, err := sb.Run(context.Background(), `data["n"] = 2`, Bindings{Data: data})
	require.NoError(t, err)
	require.Equal(t, 1, data["n"])
}

func TestSandboxTimeout(t *testing.T) {
	sb := New(Options{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := sb.Run(context.Background(), `
		i := 0
		for {
			i++
		}
	`, Bindings{})
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), time.Second)
}

func TestSandboxCancelled(t *testing.T) {
	sb := New(Options{Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := sb.Run(ctx, `
		i := 0
		for {
			i++
		}
	`, Bindings{})
	require.ErrorIs(t, err, context.Canceled)
}

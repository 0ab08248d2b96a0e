package main

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestRun_ExitCodes(t *testing.T) {
	original := execute
	t.Cleanup(func() { execute = original })

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"interrupted", context.Canceled, 0},
		{"wrapped interrupt", errors.Join(errors.New("dispatch"), context.Canceled), 0},
		{"failure", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			execute = func(context.Context) error { return tt.err }
			assert.Equal(t, tt.want, run(context.Background()))
		})
	}
}

func TestHandlePanic(t *testing.T) {
	t.Cleanup(resetMocks)

	t.Run("writes panic log", func(t *testing.T) {
		var written string
		var code int
		osWriteFile = func(name string, data []byte, _ os.FileMode) error {
			assert.Equal(t, panicLogFile, name)
			written = string(data)
			return nil
		}
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("selector vanished")
		}()

		assert.Equal(t, 2, code)
		assert.Contains(t, written, "panic: selector vanished")
		assert.Contains(t, written, "goroutine")
	})

	t.Run("log write failure still exits", func(t *testing.T) {
		var code int
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("boom")
		}()
		assert.Equal(t, 2, code)
	})

	t.Run("no panic is a no-op", func(t *testing.T) {
		called := false
		osExit = func(int) { called = true }
		func() {
			defer handlePanic()
		}()
		require.False(t, called)
	})
}

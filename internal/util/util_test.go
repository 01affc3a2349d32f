package util

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSafePrinterSuspend(t *testing.T) {
	var buf bytes.Buffer
	p := NewSafePrinter(&buf)
	p.Println("one")
	p.Suspend()
	p.Println("hidden")
	p.Resume()
	p.PrintBlock("two", false)
	assert.Equal(t, "one\ntwo\n", buf.String())
}

func TestSafePrinterConcurrentLinesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	p := NewSafePrinter(&buf)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Printf("%s\n", "abcdefgh")
		}()
	}
	wg.Wait()
	for _, line := range bytes.Split(bytes.TrimSuffix(buf.Bytes(), []byte("\n")), []byte("\n")) {
		assert.Equal(t, "abcdefgh", string(line))
	}
}

func TestAttemptLogsAndSwallows(t *testing.T) {
	var logBuf bytes.Buffer
	log := zerolog.New(&logBuf)

	assert.True(t, Attempt(log, "noop", func() error { return nil }))
	assert.Empty(t, logBuf.String())

	assert.False(t, Attempt(log, "kill", func() error { return errors.New("boom") }))
	assert.Contains(t, logBuf.String(), `"step":"kill"`)
	assert.Contains(t, logBuf.String(), "boom")
}

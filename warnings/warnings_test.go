package warnings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct{ lines []string }

func (r *recordingSink) Warnf(format string, args ...interface{}) {
	r.lines = append(r.lines, format)
}

func TestFileTeeSinkBuffersAndFlushes(t *testing.T) {
	rec := &recordingSink{}
	path := filepath.Join(t.TempDir(), "warnings.log")
	sink := NewFileTeeSink(rec, path)

	sink.Warnf("first warning")
	sink.Warnf("second %s", "warning")

	require.NoError(t, sink.Close())
	assert.Len(t, rec.lines, 2)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first warning\nsecond warning\n", string(content))
}

func TestLogrusSinkDoesNotPanic(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(os.NewFile(0, os.DevNull))
	sink := &LogrusSink{Logger: logger}
	sink.Warnf("oversize file %s", "a.txt")
}

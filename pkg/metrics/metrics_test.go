package metrics

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

func TestRunMetricsLog(t *testing.T) {
	var logBuf bytes.Buffer
	plog.SetOutput(&logBuf)
	t.Cleanup(func() { plog.SetOutput(os.Stderr) })

	m := &RunMetrics{}
	m.AddCopiedAToB(2)
	m.AddCopiedBToA(1)
	m.AddBytesCopied(3 * 1024 * 1024)
	m.AddQuarantined(4)
	m.AddFailed(1)

	m.Log(1500 * time.Millisecond)

	out := logBuf.String()
	assert.Contains(t, out, "copiedAToB=2")
	assert.Contains(t, out, "copiedBToA=1")
	assert.Contains(t, out, `bytesCopied="3.0 MiB"`)
	assert.Contains(t, out, "quarantined=4")
	assert.Contains(t, out, "failed=1")
}

func TestNoopMetrics(t *testing.T) {
	var m Metrics = &NoopMetrics{}
	m.AddCopiedAToB(1)
	m.Log(time.Second)
}

package output

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a status message
	w.Status("🔍", "Searching index...")

	// Then: output contains icon and message
	assert.Equal(t, "🔍 Searching index...\n", buf.String())
}

func TestWriter_Status_NoIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("", "detail")

	assert.Equal(t, "   detail\n", buf.String())
}

func TestWriter_Success_PrintsCheckmark(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a success message
	w.Success("Indexed 3 entities")

	// Then: output contains checkmark and message
	output := buf.String()
	assert.Contains(t, output, "✅")
	assert.Contains(t, output, "Indexed 3 entities")
}

func TestWriter_Warning_PrintsWarningIcon(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Warningf("%d categories skipped", 2)

	output := buf.String()
	assert.Contains(t, output, "⚠️")
	assert.Contains(t, output, "2 categories skipped")
}

func TestWriter_Error_PrintsErrorIcon(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Errorf("store %s is locked", "pebble")

	output := buf.String()
	assert.Contains(t, output, "❌")
	assert.Contains(t, output, "store pebble is locked")
}

func TestWriter_Code_PrintsIndentedBlock(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a two-line block
	w.Code("store:\n  backend: pebble")

	// Then: each line is indented and the block is padded
	assert.Equal(t, "\n  store:\n    backend: pebble\n\n", buf.String())
}

func TestWriter_Statusf_FormatsMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Statusf("📂", "Found %d rows in %s", 42, "saved")

	assert.Equal(t, "📂 Found 42 rows in saved\n", buf.String())
}

func TestWriter_List_IndentsItems(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.List([]string{"R1", "R2"})

	assert.Equal(t, "   R1\n   R2\n", buf.String())
}

func TestWriter_KeyValue_AlignsLabels(t *testing.T) {
	// Given: labels of different widths
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing them
	w.KeyValue([][2]string{{"rows", "14"}, {"backend", "pebble"}})

	// Then: values start in the same column
	assert.Equal(t, "   rows:    14\n   backend: pebble\n", buf.String())
}

func TestWriter_Counts_SortsKeys(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Counts(map[string]int{"saved": 8, "history": 6})

	assert.Equal(t, "   history: 6\n   saved:   8\n", buf.String())
}

func TestWriter_Newline_PrintsEmptyLine(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Newline()

	assert.Equal(t, "\n", buf.String())
}

func TestNew_BufferIsNotATerminal(t *testing.T) {
	// Given/When: a writer over a buffer
	w := New(&bytes.Buffer{})

	// Then: colour is off
	assert.False(t, w.useColor)
	assert.False(t, IsTerminal(&bytes.Buffer{}))
}

func TestIsTerminal_RegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	assert.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.False(t, IsTerminal(f))
}

func TestNewWithColor_KeepsMessageText(t *testing.T) {
	// Given: colour forced on
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, true)

	// When: printing styled messages
	w.Header("Index")
	w.Success("done")

	// Then: the text survives styling
	assert.Contains(t, buf.String(), "Index")
	assert.Contains(t, buf.String(), "done")
}

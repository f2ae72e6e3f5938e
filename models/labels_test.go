package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassNamesCatalog(t *testing.T) {
	assert.Len(t, ClassNames, 15)
	assert.Equal(t, "Pepper bell - Bacterial spot", ClassNames[0])
	assert.Equal(t, "Tomato - healthy", ClassNames[14])
}

func TestDefaultLabelsIsACopy(t *testing.T) {
	labels := DefaultLabels()
	labels[0] = "changed"
	assert.Equal(t, "Pepper bell - Bacterial spot", ClassNames[0])
}

func TestLoadLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	content := "# plant labels\nhealthy\n\n  rust  \nblight\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"healthy", "rust", "blight"}, labels)
}

func TestLoadLabels_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("# nothing\n\n"), 0o644))

	_, err := LoadLabels(path)
	assert.Error(t, err)
}

func TestLoadLabels_Missing(t *testing.T) {
	_, err := LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestResultString(t *testing.T) {
	r := ClassificationResult{Label: "Potato - healthy", Confidence: 87.456}
	assert.Equal(t, "Prediction Result: Potato - healthy\nConfidence: 87.46", r.String())

	u := Unknown()
	assert.False(t, u.Known)
	assert.Equal(t, -1, u.Index)
	assert.Equal(t, UnknownLabel, u.Label)
}

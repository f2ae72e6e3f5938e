package models

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ClassNames is the catalog of the bundled plant disease model, index-aligned
// with its output scores.
var ClassNames = []string{
	"Pepper bell - Bacterial spot",
	"Pepper bell - healthy",
	"Potato - Early blight",
	"Potato - Late blight",
	"Potato - healthy",
	"Tomato - Bacterial spot",
	"Tomato - Early blight",
	"Tomato - Late blight",
	"Tomato - Leaf Mold",
	"Tomato - Septoria leaf spot",
	"Tomato - Spider mites - Two spotted spider mite",
	"Tomato - Target Spot",
	"Tomato - Tomato Yellow Leaf - Curl Virus",
	"Tomato - Tomato mosaic virus",
	"Tomato - healthy",
}

// DefaultLabels returns a copy of ClassNames.
func DefaultLabels() []string {
	labels := make([]string, len(ClassNames))
	copy(labels, ClassNames)
	return labels
}

// LoadLabels reads one label per line. Blank lines and lines starting with
// '#' are skipped.
func LoadLabels(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer file.Close()

	var labels []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

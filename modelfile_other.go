//go:build !unix

package main

import (
	"fmt"
	"os"
)

type modelFile struct {
	data []byte
}

func openModelFile(path string) (*modelFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	return &modelFile{data: data}, nil
}

func (m *modelFile) Bytes() []byte {
	return m.data
}

func (m *modelFile) Close() error {
	m.data = nil
	return nil
}

package main

import (
	"strings"

	"github.com/Tutortoise/leafdx/models"
)

const (
	MsgHealthy = "The leaf looks healthy. Keep monitoring the plant and re-check if spots or discoloration appear."

	MsgDiseased = "Signs of disease were detected. Isolate the plant if possible and compare the symptoms with the predicted condition before treating it."

	MsgUnknown = "The classifier could not make a prediction for this image. Try a closer, well-lit photo of a single leaf."

	MsgNotReady = "Classifier not initialized or no image selected"
)

func adviceMessage(result models.ClassificationResult) string {
	switch {
	case !result.Known:
		return MsgUnknown
	case strings.HasSuffix(strings.ToLower(result.Label), "healthy"):
		return MsgHealthy
	default:
		return MsgDiseased
	}
}

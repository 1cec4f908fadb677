package core

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ClassOther is the bucket for content that could not be sniffed.
const ClassOther = "other"

// Classify sniffs the header of the file at path and returns its top level
// media type ("image", "video", "text", "application", ...).
func Classify(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return ClassOther
	}
	return classOf(mt.String())
}

// ClassifyBytes is Classify for content already in memory.
func ClassifyBytes(data []byte) string {
	return classOf(mimetype.Detect(data).String())
}

func classOf(mime string) string {
	mime, _, _ = strings.Cut(mime, ";")
	top, _, ok := strings.Cut(strings.TrimSpace(mime), "/")
	if !ok || top == "" {
		return ClassOther
	}
	return strings.ToLower(top)
}

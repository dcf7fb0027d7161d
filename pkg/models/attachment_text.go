package models

import (
	"errors"
	"fmt"
	"math"
)

// AttachmentTextQuality ranks extracted text; higher is better
type AttachmentTextQuality int

const (
	QualityLow  AttachmentTextQuality = 0
	QualityHigh AttachmentTextQuality = 1
)

// RawAttachmentText is one extraction of an attachment's text
type RawAttachmentText struct {
	Quality   AttachmentTextQuality `json:"quality"`
	Language  string                `json:"language"`
	Text      string                `json:"text"`
	Timestamp RFC3339Time           `json:"timestamp"`
}

// RawAttachment is a stored document with every text extraction made of it
type RawAttachment struct {
	Hash        Blake2bHash         `json:"hash"`
	Name        string              `json:"name"`
	Extension   string              `json:"extension"`
	TextObjects []RawAttachmentText `json:"text_objects"`
}

// ErrNoText is returned when an attachment has no text extractions
var ErrNoText = errors.New("attachment has no text objects")

// rank scores a text object. The timestamp is scaled into a fraction so
// that quality always dominates and newer extractions only break ties.
func (t RawAttachmentText) rank() float64 {
	return float64(t.Quality) + float64(t.Timestamp.Unix())/math.Exp2(32)
}

// HighestQualityText returns the text of the best extraction
func HighestQualityText(att RawAttachment) (string, error) {
	if len(att.TextObjects) == 0 {
		return "", fmt.Errorf("%s: %w", att.Name, ErrNoText)
	}

	best := att.TextObjects[0]
	for _, candidate := range att.TextObjects[1:] {
		if candidate.rank() > best.rank() {
			best = candidate
		}
	}
	return best.Text, nil
}

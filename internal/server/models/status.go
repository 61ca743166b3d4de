package models

import (
	"fmt"

	"github.com/dmitrijs2005/pressarchive/internal/common"
)

// AssetStatus is the persisted pipeline position of an Asset.
type AssetStatus string

const (
	AssetUploaded      AssetStatus = "uploaded"
	AssetCompressing   AssetStatus = "compressing"
	AssetProcessingOCR AssetStatus = "processing_ocr"
	AssetDone          AssetStatus = "done"
	AssetFailed        AssetStatus = "failed"
)

var assetTransitions = map[AssetStatus][]AssetStatus{
	AssetUploaded:      {AssetCompressing, AssetFailed},
	AssetCompressing:   {AssetProcessingOCR, AssetFailed},
	AssetProcessingOCR: {AssetDone, AssetFailed},
	// failed re-enters through an operator retry: the whole pipeline, or OCR alone
	AssetFailed: {AssetCompressing, AssetProcessingOCR},
	AssetDone:   {AssetProcessingOCR},
}

func (s AssetStatus) Valid() bool {
	_, ok := assetTransitions[s]
	return ok
}

func (s AssetStatus) CanTransitionTo(to AssetStatus) bool {
	for _, next := range assetTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateAssetTransition returns ErrInvalidTransition for moves the state
// machine does not allow.
func ValidateAssetTransition(from, to AssetStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: asset %s -> %s", common.ErrInvalidTransition, from, to)
	}
	return nil
}

// OcrStatus is the persisted state of an OcrResult.
type OcrStatus string

const (
	OcrQueued     OcrStatus = "queued"
	OcrProcessing OcrStatus = "processing"
	OcrDone       OcrStatus = "done"
	OcrFailed     OcrStatus = "failed"
)

var ocrTransitions = map[OcrStatus][]OcrStatus{
	OcrQueued:     {OcrProcessing},
	OcrProcessing: {OcrDone, OcrFailed},
	OcrDone:       {OcrQueued},
	OcrFailed:     {OcrQueued},
}

func (s OcrStatus) Valid() bool {
	_, ok := ocrTransitions[s]
	return ok
}

func (s OcrStatus) CanTransitionTo(to OcrStatus) bool {
	for _, next := range ocrTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func ValidateOcrTransition(from, to OcrStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: ocr %s -> %s", common.ErrInvalidTransition, from, to)
	}
	return nil
}

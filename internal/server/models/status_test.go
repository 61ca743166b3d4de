package models

import (
	"testing"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetTransitions(t *testing.T) {
	tests := []struct {
		from, to AssetStatus
		ok       bool
	}{
		{AssetUploaded, AssetCompressing, true},
		{AssetCompressing, AssetProcessingOCR, true},
		{AssetCompressing, AssetFailed, true},
		{AssetProcessingOCR, AssetDone, true},
		{AssetProcessingOCR, AssetFailed, true},
		{AssetFailed, AssetCompressing, true},
		{AssetFailed, AssetProcessingOCR, true},
		{AssetDone, AssetProcessingOCR, true},

		{AssetUploaded, AssetDone, false},
		{AssetUploaded, AssetProcessingOCR, false},
		{AssetProcessingOCR, AssetCompressing, false},
		{AssetDone, AssetCompressing, false},
		{AssetDone, AssetUploaded, false},
		{AssetStatus("bogus"), AssetDone, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateAssetTransition(tt.from, tt.to)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, common.ErrInvalidTransition)
		})
	}
}

func TestOcrTransitions(t *testing.T) {
	assert.NoError(t, ValidateOcrTransition(OcrQueued, OcrProcessing))
	assert.NoError(t, ValidateOcrTransition(OcrProcessing, OcrDone))
	assert.NoError(t, ValidateOcrTransition(OcrProcessing, OcrFailed))
	assert.NoError(t, ValidateOcrTransition(OcrFailed, OcrQueued))
	assert.NoError(t, ValidateOcrTransition(OcrDone, OcrQueued))

	assert.ErrorIs(t, ValidateOcrTransition(OcrQueued, OcrDone), common.ErrInvalidTransition)
	assert.ErrorIs(t, ValidateOcrTransition(OcrProcessing, OcrQueued), common.ErrInvalidTransition)
	assert.ErrorIs(t, ValidateOcrTransition(OcrFailed, OcrDone), common.ErrInvalidTransition)
}

func TestStatusValid(t *testing.T) {
	assert.True(t, AssetFailed.Valid())
	assert.False(t, AssetStatus("queued").Valid())
	assert.True(t, OcrQueued.Valid())
	assert.False(t, OcrStatus("compressing").Valid())
	assert.True(t, LanguageKazakh.Valid())
	assert.False(t, Language("en").Valid())
}

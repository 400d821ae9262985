package limits

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestFrameBlockSizes verifies that the frame block sizes hold every segment slot.
func TestFrameBlockSizes(t *testing.T) {
	assert.Equal(t, MaxVideoPackets*MaxPayloadSize, LargestVideoFrameSize)
	assert.Equal(t, MaxAudioPackets*MaxPayloadSize, LargestAudioFrameSize)
	assert.GreaterOrEqual(t, MaxFECBufferSize, MaxPayloadSize)
}

func TestValidateMessageSize(t *testing.T) {
	tests := []struct {
		name    string
		message []byte
		maxSize int
		wantErr error
	}{
		{"empty", nil, 10, ErrMessageEmpty},
		{"at limit", make([]byte, 10), 10, nil},
		{"over limit", make([]byte, 11), 10, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageSize(tt.message, tt.maxSize)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidateSegmentPayload(t *testing.T) {
	assert.NoError(t, ValidateSegmentPayload(nil))
	assert.NoError(t, ValidateSegmentPayload(make([]byte, MaxPayloadSize)))
	assert.ErrorIs(t, ValidateSegmentPayload(make([]byte, MaxPayloadSize+1)), ErrMessageTooLarge)
}

func TestValidateTCPPayloadSize(t *testing.T) {
	assert.NoError(t, ValidateTCPPayloadSize(0))
	assert.NoError(t, ValidateTCPPayloadSize(MaxTCPPayloadSize))
	assert.ErrorIs(t, ValidateTCPPayloadSize(-1), ErrNegativeSize)
	assert.ErrorIs(t, ValidateTCPPayloadSize(MaxTCPPayloadSize+1), ErrMessageTooLarge)
}

func TestValidateSegmentIndices(t *testing.T) {
	tests := []struct {
		name                      string
		index, numIndices, numFEC int
		wantErr                   bool
	}{
		{"first of one", 0, 1, 0, false},
		{"last with fec", 13, 14, 4, false},
		{"index equals count", 14, 14, 4, true},
		{"negative index", -1, 14, 4, true},
		{"zero indices", 0, 0, 0, true},
		{"too many indices", 0, MaxVideoPackets + 1, 0, true},
		{"all fec", 0, 4, 4, true},
		{"negative fec", 0, 4, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSegmentIndices(tt.index, tt.numIndices, tt.numFEC, MaxVideoPackets)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrIndexOutOfRange)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

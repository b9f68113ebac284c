package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/derek-dv/errand-backend/internal/apperr"
)

func TestValidateMessagePayload(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		messageType string
		imageURL    string
		wantErr     bool
	}{
		{"valid text", "hello", MessageTypeText, "", false},
		{"empty text body", "", MessageTypeText, "", true},
		{"text at length cap", strings.Repeat("a", MaxMessageLength), MessageTypeText, "", false},
		{"text over length cap", strings.Repeat("a", MaxMessageLength+1), MessageTypeText, "", true},
		{"valid image", "", MessageTypeImage, "https://cdn.example.com/p.jpg", false},
		{"image without url", "", MessageTypeImage, "", true},
		{"unknown type", "hello", "video", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessagePayload(tt.body, tt.messageType, tt.imageURL)
			if tt.wantErr {
				require.Error(t, err)
				require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

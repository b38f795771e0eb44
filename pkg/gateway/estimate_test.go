package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentrun/agentrun/pkg/models"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name     string
		messages []models.ChatMessage
		want     int64
	}{
		{
			name: "no messages",
			want: 0,
		},
		{
			name:     "empty content",
			messages: []models.ChatMessage{{Role: models.RoleUser, Content: ""}},
			want:     0,
		},
		{
			name:     "ten words round up",
			messages: []models.ChatMessage{{Role: models.RoleUser, Content: "one two three four five six seven eight nine ten"}},
			want:     13,
		},
		{
			name:     "single word rounds up",
			messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hello"}},
			want:     2,
		},
		{
			name: "words summed across messages",
			messages: []models.ChatMessage{
				{Role: models.RoleSystem, Content: "you are terse"},
				{Role: models.RoleUser, Content: "summarize this report"},
			},
			want: 8, // ceil(1.3 * 6)
		},
		{
			name:     "whitespace runs collapse",
			messages: []models.ChatMessage{{Role: models.RoleUser, Content: "  a\t b \n c  "}},
			want:     4, // ceil(1.3 * 3)
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.messages))
		})
	}
}

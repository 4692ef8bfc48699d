package httpadapter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

func TestInvalidInputMessage(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"content":   {fmt.Errorf("message content is required: %w", domain.ErrInvalidInput), "Message content is required"},
		"user id":   {fmt.Errorf("user id is required: %w", domain.ErrInvalidInput), "User id is required"},
		"bare":      {domain.ErrInvalidInput, "Invalid input"},
		"prefixed":  {fmt.Errorf("%w: negative token count", domain.ErrInvalidInput), "Invalid input: negative token count"},
		"unrelated": {errors.New("limit out of range"), "Limit out of range"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, invalidInputMessage(tc.err))
		})
	}
}

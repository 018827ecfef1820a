package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidStatus(StatusPending))
	assert.True(t, ValidStatus(StatusInProgress))
	assert.True(t, ValidStatus(StatusCompleted))

	assert.False(t, ValidStatus(""))
	assert.False(t, ValidStatus("pending"))
	assert.False(t, ValidStatus("Done"))
}

func TestOrderingExpr(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ordering string
		want     string
		wantErr  bool
	}{
		{"", "t.created_at DESC", false},
		{"created_at", "t.created_at ASC", false},
		{"-created_at", "t.created_at DESC", false},
		{"updated_at", "t.updated_at ASC", false},
		{"-updated_at", "t.updated_at DESC", false},
		{"title", "", true},
		{"-status", "", true},
		{"created_at; DROP TABLE tasks", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.ordering, func(t *testing.T) {
			got, err := orderingExpr(tc.ordering)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrBadOrdering)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

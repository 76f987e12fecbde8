package ports

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreError(t *testing.T) {
	tests := []struct {
		name string
		err  *StoreError
		want string
	}{
		{
			name: "with key",
			err:  NewStoreError("file", "sess-1.json", "load", fs.ErrNotExist),
			want: "file store: load sess-1.json: file does not exist",
		},
		{
			name: "without key",
			err:  NewStoreError("gcs", "", "list", errors.New("permission denied")),
			want: "gcs store: list: permission denied",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestStoreError_Unwrap(t *testing.T) {
	err := fmt.Errorf("view: %w", NewStoreError("badger", "sess-2.json", "load", ErrReportNotFound))

	assert.ErrorIs(t, err, ErrReportNotFound)
	var storeErr *StoreError
	if assert.ErrorAs(t, err, &storeErr) {
		assert.Equal(t, "badger", storeErr.Backend)
		assert.Equal(t, "sess-2.json", storeErr.Key)
	}
}

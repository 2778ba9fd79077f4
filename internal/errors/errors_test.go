package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindInternal},
		{"plain", io.EOF, KindInternal},
		{"classified", E(KindNoSuchSubgraph, "remove", io.EOF), KindNoSuchSubgraph},
		{"wrapped classified", fmt.Errorf("edit: %w", E(KindDecode, "decode", io.EOF)), KindDecode},
		{"bare sentinel", fmt.Errorf("resolve: %w", ErrGraphNotFound), KindGraphNotFound},
		{"formatted", Errorf(KindResourceExhausted, "match", "budget of %d steps exceeded", 10), KindResourceExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorIsSentinel(t *testing.T) {
	err := fmt.Errorf("outer: %w", E(KindStoreUnavailable, "apply", io.ErrUnexpectedEOF))

	assert.True(t, Is(err, ErrStoreUnavailable))
	assert.True(t, Is(err, io.ErrUnexpectedEOF))
	assert.False(t, Is(err, ErrDecode))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "resolve: graph not found", E(KindGraphNotFound, "resolve", ErrGraphNotFound).Error())
	assert.Equal(t, "match: too big", Errorf(KindResourceExhausted, "match", "too big").Error())
	assert.Equal(t, "NoSuchSubgraph", KindNoSuchSubgraph.String())
	assert.Equal(t, "DecodeError", KindDecode.String())
}

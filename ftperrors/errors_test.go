package ftperrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	cases := []struct {
		kind    Kind
		class   Class
		retry   bool
		fatal   bool
		structural bool
	}{
		{KindInvalidRemotePath, ClassStructural, false, false, true},
		{KindDirEndlessLoop, ClassStructural, false, false, true},
		{KindFileHidden, ClassPolicy, false, false, false},
		{KindNoDataTimeout, ClassTransient, true, false, false},
		{KindConnectionDropped, ClassTransient, true, false, false},
		{KindLowMemory, ClassFatalItem, false, true, false},
	}
	for _, c := range cases {
		t.Run(c.kind.String(), func(t *testing.T) {
			assert.Equal(t, c.class, c.kind.Class())
			err := New(c.kind, "detail")
			assert.Equal(t, c.retry, Retryable(err))
			assert.Equal(t, c.fatal, IsFatal(err))
			assert.Equal(t, c.structural, IsStructural(err))
		})
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	base := fmt.Errorf("boom")
	err := Wrap(KindConnectionDropped, base)
	assert.ErrorIs(t, err, base)
	fe, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, KindConnectionDropped, fe.Kind)
	assert.Equal(t, KindConnectionDropped, KindOf(err))
}

func TestNilWrap(t *testing.T) {
	assert.Nil(t, Wrap(KindTLSError, nil))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindNone, KindOf(fmt.Errorf("plain")))
}

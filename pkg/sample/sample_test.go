package sample

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSample_String(t *testing.T) {
	tests := []struct {
		name string
		s    Sample
		want string
	}{
		{
			name: "integer value",
			s:    Sample{Seq: 1, Time: time.UnixMicro(1700000000000000), Value: 512},
			want: "1,1700000000000000,512",
		},
		{
			name: "fractional value",
			s:    Sample{Seq: 42, Time: time.UnixMicro(5), Value: -0.125},
			want: "42,5,-0.125",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.s.String())
		})
	}
}

func TestNewStream_Defaults(t *testing.T) {
	st := NewStream(0, zerolog.Nop())
	assert.Equal(t, DefaultBufferSize, cap(st.out))

	st = NewStream(7, zerolog.Nop())
	assert.Equal(t, 7, cap(st.out))
}

func TestStream_PushOrder(t *testing.T) {
	st := NewStream(10, zerolog.Nop())
	for i := uint64(1); i <= 5; i++ {
		st.Push(Sample{Seq: i, Value: float64(i) * 1.5})
	}

	for i := uint64(1); i <= 5; i++ {
		s := <-st.Samples()
		assert.Equal(t, i, s.Seq)
		assert.Equal(t, float64(i)*1.5, s.Value)
	}
	assert.Zero(t, st.Dropped())
}

func TestStream_DropWhenFull(t *testing.T) {
	st := NewStream(2, zerolog.Nop())
	for i := uint64(1); i <= 5; i++ {
		st.Push(Sample{Seq: i})
	}

	assert.Equal(t, uint64(3), st.Dropped())
	assert.Equal(t, uint64(1), (<-st.Samples()).Seq)
	assert.Equal(t, uint64(2), (<-st.Samples()).Seq)
}

func TestStream_PushAfterClose(t *testing.T) {
	st := NewStream(2, zerolog.Nop())
	st.Push(Sample{Seq: 1})
	st.Close()
	st.Close()

	require.NotPanics(t, func() { st.Push(Sample{Seq: 2}) })

	s, ok := <-st.Samples()
	require.True(t, ok, "buffered sample survives close")
	assert.Equal(t, uint64(1), s.Seq)

	_, ok = <-st.Samples()
	assert.False(t, ok)
}

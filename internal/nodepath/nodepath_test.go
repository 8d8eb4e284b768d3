package nodepath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodePath(t *testing.T) {
	p := New("root", ArrayMarker, "key", ArrayMarker)

	t.Run("string elides markers", func(t *testing.T) {
		assert.Equal(t, "root.key", p.String())
		assert.Equal(t, []string{"root", "key"}, p.Names())
	})

	t.Run("array detection", func(t *testing.T) {
		assert.True(t, p.IsArray())
		trimmed := p.TrimArray()
		assert.False(t, trimmed.IsArray())
		assert.Equal(t, "key", trimmed.Last())
		// Trimming a non-array path is a no-op.
		assert.True(t, trimmed.Equal(trimmed.TrimArray()))
	})

	t.Run("pop first", func(t *testing.T) {
		first, rest := p.PopFirst()
		assert.Equal(t, "root", first)
		assert.Equal(t, 3, rest.Len())
		assert.Equal(t, []string{ArrayMarker, "key", ArrayMarker}, rest.Segments())

		first, rest = New().PopFirst()
		assert.Equal(t, "", first)
		assert.True(t, rest.IsEmpty())
	})

	t.Run("child does not alias", func(t *testing.T) {
		base := New("root", "a")
		c1 := base.Child("b")
		c2 := base.Child("c")
		assert.Equal(t, "root.a.b", c1.String())
		assert.Equal(t, "root.a.c", c2.String())
		assert.Equal(t, "root.a", base.String())
	})

	t.Run("segments are copied", func(t *testing.T) {
		segs := []string{"root", "x"}
		q := New(segs...)
		segs[1] = "y"
		assert.Equal(t, "root.x", q.String())
		out := q.Segments()
		out[0] = "mutated"
		assert.Equal(t, "root.x", q.String())
	})
}

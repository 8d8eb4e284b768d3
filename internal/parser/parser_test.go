package parser

import (
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/jsontab/api"
	"github.com/agentic-research/jsontab/internal/cache"
	"github.com/agentic-research/jsontab/internal/logging"
	"github.com/agentic-research/jsontab/internal/nodepath"
	"github.com/agentic-research/jsontab/internal/structure"
	"github.com/agentic-research/jsontab/internal/table"
)

func newParser(t *testing.T, opts api.Options, extra ...Option) (*Parser, *table.Memory, *logging.Recorder) {
	t.Helper()
	mem := table.NewMemory()
	rec := &logging.Recorder{}
	p := New(mem, opts, append([]Option{WithLogger(rec)}, extra...)...)
	t.Cleanup(func() { _ = p.Close() })
	return p, mem, rec
}

func tableNames(tables []table.Table) []string {
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = t.Name()
	}
	return out
}

func mustTable(t *testing.T, mem *table.Memory, name string) *table.MemoryTable {
	t.Helper()
	tbl := mem.Table(name)
	require.NotNil(t, tbl, "table %q", name)
	return tbl
}

func TestScenario_ScalarArray(t *testing.T) {
	p, mem, _ := newParser(t, api.Options{})
	require.NoError(t, p.Process([]any{"a", "b"}, "root", nil))
	tables, err := p.OutputTables()
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, tableNames(tables))

	root := mustTable(t, mem, "root")
	assert.Equal(t, []string{"data"}, root.Header())
	assert.Equal(t, []any{"a", "b"}, root.Column("data"))
	assert.Equal(t, "root", root.Attributes()[AttrSourcePath])
}

func TestScenario_MixedScalars(t *testing.T) {
	batch := func() []any {
		return []any{
			map[string]any{"field": 128},
			map[string]any{"field": "string"},
			map[string]any{"field": true},
		}
	}

	t.Run("loose", func(t *testing.T) {
		p, mem, _ := newParser(t, api.Options{})
		require.NoError(t, p.Process(batch(), "root", nil))
		_, err := p.OutputTables()
		require.NoError(t, err)

		root := mustTable(t, mem, "root")
		assert.Equal(t, []string{"field"}, root.Header())
		assert.Equal(t, []any{"128", "string", "1"}, root.Column("field"))
	})

	t.Run("strict", func(t *testing.T) {
		p, _, _ := newParser(t, api.Options{Strict: true})
		err := p.Process(batch(), "root", nil)
		require.ErrorIs(t, err, structure.ErrSchemaConflict)
		assert.Contains(t, err.Error(), `"integer" and "string"`)
	})
}

func TestScenario_UpgradeToArray(t *testing.T) {
	p, mem, _ := newParser(t, api.Options{AutoUpgradeToArray: true})
	require.NoError(t, p.Process([]any{
		map[string]any{"key": map[string]any{"subKey1": "val1.1"}},
	}, "root", nil))
	require.NoError(t, p.Process([]any{
		map[string]any{"key": []any{
			map[string]any{"subKey1": "val2.1.1"},
			map[string]any{"subKey1": "val2.2.1"},
		}},
	}, "root", nil))

	tables, err := p.OutputTables()
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "root_key"}, tableNames(tables))

	root := mustTable(t, mem, "root")
	assert.Equal(t, []string{"key"}, root.Header())
	links := root.Column("key")
	require.Len(t, links, 2)
	assert.NotEqual(t, links[0], links[1])
	for _, l := range links {
		assert.True(t, strings.HasPrefix(l.(string), "root_"), "%v", l)
	}

	key := mustTable(t, mem, "root_key")
	assert.Equal(t, []string{"key_subKey1", structure.ParentColumn}, key.Header())
	assert.Equal(t, []any{"val1.1", "val2.1.1", "val2.2.1"}, key.Column("key_subKey1"))
	assert.Equal(t, []any{links[0], links[1], links[1]}, key.Column(structure.ParentColumn))
}

func TestUpgradeToArray_HeaderFollowsFirstShape(t *testing.T) {
	flatten := func(batches ...[]any) *table.MemoryTable {
		p, mem, _ := newParser(t, api.Options{AutoUpgradeToArray: true})
		for _, b := range batches {
			require.NoError(t, p.Process(b, "root", nil))
		}
		_, err := p.OutputTables()
		require.NoError(t, err)
		return mustTable(t, mem, "root_arr")
	}
	scalar := []any{map[string]any{"arr": 1}}
	array := []any{map[string]any{"arr": []any{2, 3}}}

	// A widened scalar keeps the column name it was first given.
	upgraded := flatten(scalar, array)
	assert.Equal(t, []string{"arr", structure.ParentColumn}, upgraded.Header())
	assert.Equal(t, []any{"1", "2", "3"}, upgraded.Column("arr"))

	native := flatten(array, scalar)
	assert.Equal(t, []string{structure.DataColumn, structure.ParentColumn}, native.Header())
	assert.Equal(t, []any{"2", "3", "1"}, native.Column(structure.DataColumn))
}

func TestNestedStructures(t *testing.T) {
	p, mem, _ := newParser(t, api.Options{})
	require.NoError(t, p.Process([]any{
		map[string]any{
			"id":   1,
			"meta": map[string]any{"owner": "ann", "labels": []any{"x", "y"}},
			"items": []any{
				map[string]any{"sku": "s1", "qty": 2},
				map[string]any{"sku": "s2"},
			},
			"empty": []any{},
		},
		map[string]any{"id": 2, "meta": nil},
	}, "orders", nil))

	tables, err := p.OutputTables()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"orders", "orders_items", "orders_meta_labels"}, tableNames(tables))

	orders := mustTable(t, mem, "orders")
	assert.Equal(t, []string{"empty", "id", "items", "meta_labels", "meta_owner"}, orders.Header())
	rows := orders.Rows()
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0]["empty"], "empty arrays are written empty")
	assert.Equal(t, "1", rows[0]["id"])
	assert.Equal(t, "ann", rows[0]["meta_owner"])
	assert.Equal(t, table.Row{"empty": nil, "id": "2", "items": nil, "meta_labels": nil, "meta_owner": nil}, rows[1])

	items := mustTable(t, mem, "orders_items")
	assert.Equal(t, []string{"qty", "sku", structure.ParentColumn}, items.Header())
	assert.Equal(t, []any{"2", nil}, items.Column("qty"))
	assert.Equal(t, []any{rows[0]["items"], rows[0]["items"]}, items.Column(structure.ParentColumn))

	labels := mustTable(t, mem, "orders_meta_labels")
	assert.Equal(t, []string{"data", structure.ParentColumn}, labels.Header())
	assert.Equal(t, []any{"x", "y"}, labels.Column("data"))
	link := rows[0]["meta_labels"].(string)
	assert.True(t, strings.HasPrefix(link, "orders.meta_"), link)
	assert.Equal(t, []any{link, link}, labels.Column(structure.ParentColumn))
}

func TestLinkage_Deterministic(t *testing.T) {
	run := func(name string) []any {
		p, mem, _ := newParser(t, api.Options{})
		require.NoError(t, p.Process([]any{
			map[string]any{"name": name, "tags": []any{"t"}},
		}, "root", nil))
		_, err := p.OutputTables()
		require.NoError(t, err)
		return mustTable(t, mem, "root_tags").Column(structure.ParentColumn)
	}
	first, again, other := run("a"), run("a"), run("b")
	assert.Equal(t, first, again)
	assert.NotEqual(t, first, other)
}

func TestLinkage_PrimaryKey(t *testing.T) {
	p, mem, rec := newParser(t, api.Options{PrimaryKeys: map[string][]string{"root": {"id"}}})
	require.NoError(t, p.AddPrimaryKeys(map[string][]string{"root_tags": {"data"}}))
	require.NoError(t, p.Process([]any{
		map[string]any{"id": 7, "tags": []any{"a"}},
		map[string]any{"tags": []any{"b"}},
	}, "root", nil))

	_, err := p.OutputTables()
	require.NoError(t, err)

	root := mustTable(t, mem, "root")
	assert.Equal(t, []string{"id"}, root.PrimaryKey())
	links := root.Column("tags")
	assert.Equal(t, "root_7", links[0])
	assert.True(t, strings.HasPrefix(links[1].(string), "root_"))
	assert.NotEqual(t, "root_", links[1])
	assert.Equal(t, 1, rec.Count(logging.LevelWarning))
	assert.Equal(t, "id", rec.Entries()[0].Context["column"])

	assert.Equal(t, []string{"data"}, mustTable(t, mem, "root_tags").PrimaryKey())

	assert.ErrorIs(t, p.AddPrimaryKeys(map[string][]string{"root": {"id"}}), ErrPrimaryKey)
}

func TestLinkage_PrimaryKeyNotInSchema(t *testing.T) {
	p, _, _ := newParser(t, api.Options{PrimaryKeys: map[string][]string{"root": {"missing"}}})
	require.NoError(t, p.Process([]any{map[string]any{"id": 1}}, "root", nil))
	_, err := p.OutputTables()
	assert.ErrorIs(t, err, ErrPrimaryKey)
}

func TestParentLink(t *testing.T) {
	t.Run("scalar", func(t *testing.T) {
		p, mem, _ := newParser(t, api.Options{})
		require.NoError(t, p.Process([]any{map[string]any{"id": 1}}, "child", 42))
		_, err := p.OutputTables()
		require.NoError(t, err)
		child := mustTable(t, mem, "child")
		assert.Equal(t, []string{"id", structure.ParentColumn}, child.Header())
		assert.Equal(t, []any{"42"}, child.Column(structure.ParentColumn))
	})

	t.Run("map", func(t *testing.T) {
		p, mem, _ := newParser(t, api.Options{})
		link := map[string]any{"shop": "s", "order_id": "o-1"}
		require.NoError(t, p.Process([]any{map[string]any{"id": 1}}, "lines", link))
		_, err := p.OutputTables()
		require.NoError(t, err)
		lines := mustTable(t, mem, "lines")
		assert.Equal(t, []string{"id", "order_id", "shop"}, lines.Header())
		assert.Equal(t, table.Row{"id": "1", "order_id": "o-1", "shop": "s"}, lines.Rows()[0])
	})

	t.Run("collision with data column", func(t *testing.T) {
		p, mem, _ := newParser(t, api.Options{})
		require.NoError(t, p.Process([]any{map[string]any{structure.ParentColumn: "x", "v": 1}}, "t", "p1"))
		_, err := p.OutputTables()
		require.NoError(t, err)

		tbl := mustTable(t, mem, "t")
		assert.Equal(t, []string{structure.ParentColumn, "v", structure.ParentColumn + "_u0"}, tbl.Header())
		assert.Equal(t, table.Row{structure.ParentColumn: "x", "v": "1", structure.ParentColumn + "_u0": "p1"}, tbl.Rows()[0])
		assert.Equal(t, map[string]string{structure.ParentColumn: structure.ParentColumn + "_u0"}, p.Structure().ParentAliases())
	})

	t.Run("nested collision", func(t *testing.T) {
		p, mem, _ := newParser(t, api.Options{})
		require.NoError(t, p.Process([]any{map[string]any{
			"items": []any{map[string]any{structure.ParentColumn: "inner"}},
		}}, "root", nil))
		_, err := p.OutputTables()
		require.NoError(t, err)

		items := mustTable(t, mem, "root_items")
		assert.Equal(t, []string{structure.ParentColumn, structure.ParentColumn + "_u0"}, items.Header())
		assert.Equal(t, []any{"inner"}, items.Column(structure.ParentColumn))
		assert.Equal(t, mustTable(t, mem, "root").Column("items"), items.Column(structure.ParentColumn+"_u0"))
	})

	t.Run("multi-dimensional", func(t *testing.T) {
		p, _, _ := newParser(t, api.Options{})
		rows := []any{map[string]any{"a": 1}}
		assert.ErrorIs(t, p.Process(rows, "root", map[string]any{"x": []any{1}}), ErrLinkage)
		assert.ErrorIs(t, p.Process(rows, "root", []any{1}), ErrLinkage)
		assert.False(t, p.Structure().HasType("root"), "rejected links leave the schema untouched")
	})
}

func TestProcess_NoData(t *testing.T) {
	p, _, _ := newParser(t, api.Options{})
	assert.ErrorIs(t, p.Process(nil, "root", nil), ErrNoData)
	assert.ErrorIs(t, p.Process([]any{nil}, "root", nil), ErrNoData)

	require.NoError(t, p.Process([]any{"x"}, "", nil))
	assert.True(t, p.Structure().HasType(DefaultType))
	assert.NoError(t, p.Process([]any{nil, nil}, "root", nil))
}

func TestNestedArraysAsJSON(t *testing.T) {
	p, mem, rec := newParser(t, api.Options{NestedArraysAsJSON: true})
	require.NoError(t, p.Process([]any{
		map[string]any{"matrix": []any{[]any{1, 2}, []any{3}}},
	}, "root", nil))
	_, err := p.OutputTables()
	require.NoError(t, err)

	matrix := mustTable(t, mem, "root_matrix")
	assert.Equal(t, []any{"[1,2]", "[3]"}, matrix.Column("data"))
	assert.Equal(t, 2, rec.Count(logging.LevelWarning))
	assert.Equal(t, 0, rec.Count(logging.LevelError))
}

func TestTableNameCollision(t *testing.T) {
	p, mem, _ := newParser(t, api.Options{})
	require.NoError(t, p.Process([]any{map[string]any{
		"a":   map[string]any{"b": []any{1}},
		"a_b": []any{2},
	}}, "root", nil))
	tables, err := p.OutputTables()
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "root_a_b", "root_a_b_u0"}, tableNames(tables))
	assert.Equal(t, []string{"a_b", "a_b_u0"}, mustTable(t, mem, "root").Header())
	assert.Equal(t, []any{"1"}, mustTable(t, mem, "root_a_b").Column("data"))
	assert.Equal(t, []any{"2"}, mustTable(t, mem, "root_a_b_u0").Column("data"))
	assert.Equal(t, "root.a_b", mustTable(t, mem, "root_a_b_u0").Attributes()[AttrSourcePath])
}

func TestSpilledBatchesMatchInMemory(t *testing.T) {
	batches := [][]any{
		{map[string]any{"n": 128, "f": 1.5, "ok": false, "tags": []any{"a"}}},
		{map[string]any{"n": 129, "s": "x"}},
		{map[string]any{"n": 130, "tags": []any{"b", "c"}}},
	}
	run := func(opts ...Option) *table.Memory {
		p, mem, _ := newParser(t, api.Options{}, opts...)
		for _, b := range batches {
			require.NoError(t, p.Process(b, "root", nil))
		}
		_, err := p.OutputTables()
		require.NoError(t, err)
		return mem
	}

	inMemory := run()
	spilled := run(WithSpillFS(memfs.New()), WithPressure(cache.PressureFunc(func(int64) bool { return true })))

	for _, name := range []string{"root", "root_tags"} {
		assert.Equal(t, mustTable(t, inMemory, name).Rows(), mustTable(t, spilled, name).Rows(), name)
	}
	assert.Equal(t, []any{"128", "129", "130"}, mustTable(t, spilled, "root").Column("n"))
	assert.Equal(t, []any{"1.5", nil, nil}, mustTable(t, spilled, "root").Column("f"))
}

func TestSpilledBatchesMatchInMemory_Strict(t *testing.T) {
	batches := [][]any{
		{map[string]any{"x": 2.0}},
		{map[string]any{"x": 2.5}},
	}
	run := func(opts ...Option) (*table.Memory, *logging.Recorder) {
		p, mem, rec := newParser(t, api.Options{Strict: true}, opts...)
		for _, b := range batches {
			require.NoError(t, p.Process(b, "root", nil))
		}
		_, err := p.OutputTables()
		require.NoError(t, err)
		return mem, rec
	}

	inMemory, inMemoryLog := run()
	spilled, spilledLog := run(WithSpillFS(memfs.New()), WithPressure(cache.PressureFunc(func(int64) bool { return true })))

	assert.Equal(t, mustTable(t, inMemory, "root").Rows(), mustTable(t, spilled, "root").Rows())
	assert.Equal(t, []any{"2", "2.5"}, mustTable(t, spilled, "root").Column("x"))
	assert.Empty(t, inMemoryLog.Entries())
	assert.Equal(t, inMemoryLog.Entries(), spilledLog.Entries())
}

func TestSetCacheMemoryLimit(t *testing.T) {
	var seen []int64
	pressure := cache.PressureFunc(func(limit int64) bool {
		seen = append(seen, limit)
		return limit <= 1
	})
	p, mem, _ := newParser(t, api.Options{CacheMemoryLimit: 1 << 30}, WithSpillFS(memfs.New()), WithPressure(pressure))

	require.NoError(t, p.Process([]any{map[string]any{"a": 1}}, "root", nil))
	p.SetCacheMemoryLimit(1)
	require.NoError(t, p.Process([]any{map[string]any{"a": 2}}, "root", nil))
	require.NoError(t, p.Process([]any{map[string]any{"a": 3}}, "root", nil))

	assert.Equal(t, []int64{1 << 30, 1}, seen, "spilling is sticky")
	_, err := p.OutputTables()
	require.NoError(t, err)
	assert.Equal(t, []any{"1", "2", "3"}, mustTable(t, mem, "root").Column("a"))
}

func TestMultipleDrains(t *testing.T) {
	p, mem, _ := newParser(t, api.Options{})
	require.NoError(t, p.Process([]any{map[string]any{"a": 1}}, "root", nil))
	_, err := p.OutputTables()
	require.NoError(t, err)
	require.NoError(t, p.Process([]any{map[string]any{"a": 2}}, "root", nil))
	tables, err := p.OutputTables()
	require.NoError(t, err)
	assert.Len(t, tables, 1)
	assert.Equal(t, []any{"1", "2"}, mustTable(t, mem, "root").Column("a"))

	require.NoError(t, p.Process([]any{map[string]any{"b": 1}}, "root", nil))
	_, err = p.OutputTables()
	assert.Error(t, err, "columns added after the table exists cannot be written")
}

func TestRender_Mismatch(t *testing.T) {
	p, _, rec := newParser(t, api.Options{Strict: true})
	got := p.render("x", structure.TypeInteger, nodepath.New("root", nodepath.ArrayMarker, "n"))
	assert.Equal(t, `"x"`, got)
	require.Equal(t, 1, rec.Count(logging.LevelError))
	assert.Equal(t, "root.n", rec.Entries()[0].Context["path"])

	assert.Equal(t, "12", p.render(12, structure.TypeInteger, nodepath.New("root")))
	assert.Nil(t, p.render(nil, structure.TypeInteger, nodepath.New("root")))
}

func TestScalarString(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"s", "s"},
		{true, "1"},
		{false, "0"},
		{128, "128"},
		{int64(-3), "-3"},
		{1.5, "1.5"},
		{float64(2), "2"},
	}
	for _, tt := range tests {
		got, ok := scalarString(tt.in)
		require.True(t, ok)
		assert.Equal(t, tt.want, got)
	}
	_, ok := scalarString(map[string]any{})
	assert.False(t, ok)
}

func TestHeaders(t *testing.T) {
	s := structure.New(structure.Options{})
	a := []any{map[string]any{"z": 1, "obj": map[string]any{"x": 1, "arr": []any{1}}}}
	p := New(table.NewMemory(), api.Options{}, WithStructure(s), WithLogger(logging.Discard))
	require.NoError(t, p.Process(a, "root", "parent"))
	elem, err := s.Node(nodepath.New("root", nodepath.ArrayMarker))
	require.NoError(t, err)
	assert.Equal(t, []string{"obj_arr", "obj_x", "z", structure.ParentColumn}, Headers(elem))
}

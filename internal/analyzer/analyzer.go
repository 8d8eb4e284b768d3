// Package analyzer classifies decoded JSON values into the schema tree.
package analyzer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/agentic-research/jsontab/internal/logging"
	"github.com/agentic-research/jsontab/internal/nodepath"
	"github.com/agentic-research/jsontab/internal/structure"
)

// ErrUnsupportedShape is returned for arrays nested directly in arrays (when
// they are not being coerced to JSON strings) and for value kinds that have no
// JSON representation.
var ErrUnsupportedShape = errors.New("unsupported shape")

// Analyzer writes the observed type of every path of a batch into a
// Structure.
type Analyzer struct {
	structure          *structure.Structure
	log                logging.Logger
	nestedArraysAsJSON bool
}

// New returns an analyzer feeding s. When nestedArraysAsJSON is set, arrays
// found directly inside arrays are classified as strings instead of failing.
func New(s *structure.Structure, log logging.Logger, nestedArraysAsJSON bool) *Analyzer {
	if log == nil {
		log = logging.Discard
	}
	return &Analyzer{structure: s, log: log, nestedArraysAsJSON: nestedArraysAsJSON}
}

// Structure returns the schema the analyzer writes to.
func (a *Analyzer) Structure() *structure.Structure { return a.structure }

// AnalyzeData treats batch as the array of rootType records and classifies
// it. An empty batch is a no-op.
func (a *Analyzer) AnalyzeData(batch []any, rootType string) error {
	if len(batch) == 0 {
		return nil
	}
	_, err := a.analyzeItem(batch, nodepath.New(rootType))
	return err
}

// analyzeItem classifies v, stores the result at path and descends into
// containers. It returns the observed type.
func (a *Analyzer) analyzeItem(v any, path nodepath.NodePath) (structure.NodeType, error) {
	var observed structure.NodeType
	switch v.(type) {
	case nil:
		observed = structure.TypeNull
	case map[string]any:
		observed = structure.TypeObject
	case []any:
		switch {
		case !path.IsArray():
			observed = structure.TypeArray
		case a.nestedArraysAsJSON:
			a.log.Warning("converting nested array to JSON string", map[string]any{"path": path.String()})
			observed = a.stringType()
		default:
			return "", fmt.Errorf("%w: array nested directly in array at %q", ErrUnsupportedShape, pathLabel(path))
		}
	default:
		t, ok := ScalarType(v, a.structure.Options().Strict)
		if !ok {
			return "", fmt.Errorf("%w: unsupported data of type %T at %q", ErrUnsupportedShape, v, pathLabel(path))
		}
		observed = t
	}

	stored, err := a.structure.SaveNodeType(path, observed)
	if err != nil {
		return "", err
	}

	switch val := v.(type) {
	case map[string]any:
		objPath := path
		if stored == structure.TypeArray {
			// The node was widened; the object becomes an array element.
			objPath = path.Child(nodepath.ArrayMarker)
		}
		if err := a.analyzeObject(val, objPath); err != nil {
			return "", err
		}
	case []any:
		if observed == structure.TypeArray {
			if err := a.analyzeArray(val, path); err != nil {
				return "", err
			}
		}
	}
	return observed, nil
}

func (a *Analyzer) analyzeObject(obj map[string]any, path nodepath.NodePath) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if k == nodepath.ArrayMarker {
			return fmt.Errorf("%w: property name %q at %q is reserved", ErrUnsupportedShape, k, pathLabel(path))
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := a.analyzeItem(obj[k], path.Child(k)); err != nil {
			return err
		}
	}
	return nil
}

// analyzeArray classifies the elements of arr under the array marker. An
// empty array records an element of unknown type.
func (a *Analyzer) analyzeArray(arr []any, path nodepath.NodePath) error {
	elemPath := path.Child(nodepath.ArrayMarker)
	if len(arr) == 0 {
		_, err := a.structure.SaveNodeType(elemPath, structure.TypeNull)
		return err
	}
	var prev structure.NodeType
	for _, item := range arr {
		t, err := a.analyzeItem(item, elemPath)
		if err != nil {
			return err
		}
		if t == structure.TypeNull {
			continue
		}
		if prev != "" && !a.structure.Compatible(prev, t) {
			return fmt.Errorf("%w: data array in %q contains incompatible data types %q and %q",
				structure.ErrSchemaConflict, pathLabel(path), prev, t)
		}
		prev = t
	}
	return nil
}

func (a *Analyzer) stringType() structure.NodeType {
	if a.structure.Options().Strict {
		return structure.TypeString
	}
	return structure.TypeScalar
}

// ScalarType classifies a scalar Go value. In loose mode every scalar is
// TypeScalar; strict mode reports the concrete kind. ok is false for values
// that are not JSON scalars.
func ScalarType(v any, strict bool) (t structure.NodeType, ok bool) {
	switch n := v.(type) {
	case bool:
		t = structure.TypeBoolean
	case string:
		t = structure.TypeString
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		t = structure.TypeInteger
	case float32, float64:
		t = structure.TypeDouble
	case json.Number:
		if _, err := n.Int64(); err == nil {
			t = structure.TypeInteger
		} else {
			t = structure.TypeDouble
		}
	default:
		return "", false
	}
	if !strict {
		return structure.TypeScalar, true
	}
	return t, true
}

func pathLabel(path nodepath.NodePath) string {
	return strings.Join(path.Segments(), ".")
}

package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"

	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/starmod/pkg/fault"
)

// Kind is the content kind of an artifact.
type Kind string

const (
	// KindScript is executable module source.
	KindScript Kind = "script"

	// KindData is a JSON document; its exports are the decoded value.
	KindData Kind = "data"

	// KindYAML is a YAML document, decoded like KindData.
	KindYAML Kind = "yaml"

	// KindCUE is a CUE file, transpiled to JSON and then decoded.
	KindCUE Kind = "cue"
)

// IndexName is the file a directory resolves to.
const IndexName = "index.star"

// ManifestName is the sub-package manifest file.
const ManifestName = "package.json"

// DefaultMain is the entry point used when a manifest names none.
const DefaultMain = "./index.star"

// kindByExt maps recognized file extensions to kinds. An existing file with
// any other extension is an UnknownArtifactKind fault.
var kindByExt = map[string]Kind{
	".star": KindScript,
	".json": KindData,
	".yaml": KindYAML,
	".yml":  KindYAML,
	".cue":  KindCUE,
}

// appendedExts is tried in order when the exact file does not exist.
var appendedExts = []string{".star", ".json", ".cue"}

// KindOfFile returns the kind for name's extension.
func KindOfFile(name string) (Kind, string, bool) {
	ext := path.Ext(name)
	k, ok := kindByExt[ext]
	return k, ext, ok
}

// IsData reports whether modules of this kind are decoded rather than run.
func (k Kind) IsData() bool {
	return k == KindData || k == KindYAML || k == KindCUE
}

// transpile rewrites alternate-syntax sources into the form their decoder
// reads. It is a pure source to source function.
func transpile(kind Kind, src string) (string, Kind, error) {
	if kind != KindCUE {
		return src, kind, nil
	}

	v := cuecontext.New().CompileString(src)
	if err := v.Err(); err != nil {
		return "", kind, fmt.Errorf("cue: %w", err)
	}
	out, err := v.MarshalJSON()
	if err != nil {
		return "", kind, fmt.Errorf("cue export: %w", err)
	}
	return string(out), KindData, nil
}

// decodeData transpiles if needed and decodes a data artifact to plain Go
// values. Failures are syntax faults located at location.
func decodeData(kind Kind, src, location string) (interface{}, error) {
	src, kind, err := transpile(kind, src)
	if err != nil {
		return nil, fault.New(fault.SyntaxFault, "cannot transpile module content", err).
			WithLocation(location)
	}

	var v interface{}
	switch kind {
	case KindData:
		dec := json.NewDecoder(bytes.NewReader([]byte(src)))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fault.New(fault.SyntaxFault, "cannot parse JSON module", err).
				WithLocation(location)
		}
		return normalizeNumbers(v), nil
	case KindYAML:
		if err := yaml.Unmarshal([]byte(src), &v); err != nil {
			return nil, fault.New(fault.SyntaxFault, "cannot parse YAML module", err).
				WithLocation(location)
		}
		return v, nil
	}

	return nil, fault.Newf(fault.UnknownArtifactKind, "kind %q is not a data kind", kind).
		WithLocation(location)
}

// CheckData decodes a data artifact and discards the value.
func CheckData(kind Kind, src, location string) error {
	_, err := decodeData(kind, src, location)
	return err
}

// normalizeNumbers turns json.Number into int64 where exact, float64 otherwise.
func normalizeNumbers(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case map[string]interface{}:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	}
	return v
}

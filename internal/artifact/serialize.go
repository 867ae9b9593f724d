package artifact

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Serializer encodes a value for one file type.
type Serializer func(v any) ([]byte, error)

var serializers = map[string]Serializer{
	".json": serializeJSON,
	".yaml": serializeYAML,
	".yml":  serializeYAML,
	".txt":  serializeText,
}

// Serialize encodes v according to the extension of path.
func Serialize(path string, v any) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	s, ok := serializers[ext]
	if !ok {
		return nil, fmt.Errorf("no serializer for extension %q (supported: .json, .yaml, .yml, .txt)", ext)
	}
	return s(v)
}

func serializeJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(data, '\n'), nil
}

func serializeYAML(v any) ([]byte, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return data, nil
}

// serializeText writes strings as-is, lists one element per line, and
// anything else in its default format.
func serializeText(v any) ([]byte, error) {
	var sb strings.Builder
	switch t := v.(type) {
	case string:
		sb.WriteString(t)
	case []byte:
		sb.Write(t)
	case []any:
		for _, item := range t {
			sb.WriteString(fmt.Sprint(item))
			sb.WriteByte('\n')
		}
		return []byte(sb.String()), nil
	default:
		fmt.Fprint(&sb, v)
	}
	if !strings.HasSuffix(sb.String(), "\n") {
		sb.WriteByte('\n')
	}
	return []byte(sb.String()), nil
}

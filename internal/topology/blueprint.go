package topology

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"

	"github.com/dreamware/keyslot/internal/cluster"
)

// Format is a blueprint serialisation format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var ErrUnknownFormat = errors.New("unknown blueprint format")

// ParseFormat accepts "yaml", "yml" and "json" in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", errors.Wrapf(ErrUnknownFormat, "%q", s)
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Encode serialises a topology blueprint.
func Encode(t *cluster.Topology, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		out, err := yaml.Marshal(t)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode yaml blueprint")
		}
		return out, nil
	case FormatJSON:
		out, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode json blueprint")
		}
		return append(out, '\n'), nil
	}
	return nil, errors.Wrapf(ErrUnknownFormat, "%q", format)
}

// Decode parses a blueprint and validates it. Unknown fields are rejected so
// that typos do not silently drop data.
func Decode(data []byte, format Format) (*cluster.Topology, error) {
	var t cluster.Topology

	switch format {
	case FormatYAML:
		if err := yaml.UnmarshalWithOptions(data, &t, yaml.DisallowUnknownField()); err != nil {
			return nil, errors.Wrap(err, "failed to decode yaml blueprint")
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&t); err != nil {
			return nil, errors.Wrap(err, "failed to decode json blueprint")
		}
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "%q", format)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// ReadFile loads and validates a blueprint, picking the format from the file
// extension.
func ReadFile(path string) (*cluster.Topology, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read blueprint %s", path)
	}
	t, err := Decode(data, format)
	if err != nil {
		return nil, errors.Wrapf(err, "blueprint %s", path)
	}
	return t, nil
}

// WriteFile encodes a blueprint in the format matching the file extension.
func WriteFile(path string, t *cluster.Topology) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	data, err := Encode(t, format)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "failed to write blueprint %s", path)
}

// CreateCommand renders the redis-cli invocation that bootstraps the planned
// cluster: owner addresses first, then replicas, with one replica per owner.
// redis-cli pairs replicas with owners itself, so the slot ranges it picks may
// differ from t by a slot at range boundaries.
func CreateCommand(t *cluster.Topology) []string {
	args := []string{"redis-cli", "--cluster", "create"}
	for _, n := range t.Owners() {
		args = append(args, n.Addr)
	}
	for _, n := range t.Owners() {
		if r, ok := t.ReplicaOf(n.ID); ok {
			args = append(args, r.Addr)
		}
	}
	return append(args, "--cluster-replicas", "1")
}

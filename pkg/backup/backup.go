// Package backup encodes and validates the document stored in each remote
// backup file.
package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rexliu/davmark/pkg/bookmark"
	"github.com/rexliu/davmark/pkg/codec"
)

// ClientVersion is written into every backup this client produces.
var ClientVersion = "davmark/0.3.0"

var (
	// ErrEmptyContent is returned for an empty download.
	ErrEmptyContent = errors.New("backup: empty content")
	// ErrInvalidBackup is returned for content that is not a valid backup document.
	ErrInvalidBackup = errors.New("backup: invalid document")
)

// Metadata describes when and by what a backup was written.
type Metadata struct {
	Timestamp     int64  `json:"timestamp"`
	ClientVersion string `json:"clientVersion"`
}

// RemoteBackup is the document stored in a remote file. Data holds a single
// root wrapper whose children are the system folders.
type RemoteBackup struct {
	Metadata Metadata        `json:"metadata"`
	Data     []bookmark.Node `json:"data"`
}

// New builds a backup of tree taken at at. Bookmarks are fingerprinted and
// local ids dropped.
func New(tree []bookmark.Node, at time.Time) RemoteBackup {
	return RemoteBackup{
		Metadata: Metadata{Timestamp: at.UnixMilli(), ClientVersion: ClientVersion},
		Data:     bookmark.AssignFingerprints(tree),
	}
}

// Time returns the metadata timestamp.
func (b RemoteBackup) Time() time.Time {
	return time.UnixMilli(b.Metadata.Timestamp)
}

// Roots returns the children of the root wrapper.
func (b RemoteBackup) Roots() []bookmark.Node {
	if len(b.Data) == 0 {
		return nil
	}
	return b.Data[0].Children
}

// Marshal returns the JSON document.
func Marshal(b RemoteBackup) ([]byte, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	return json.Marshal(b)
}

// Unmarshal parses and validates a JSON document.
func Unmarshal(data []byte) (RemoteBackup, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return RemoteBackup{}, ErrEmptyContent
	}
	if err := validate(data); err != nil {
		return RemoteBackup{}, err
	}
	var b RemoteBackup
	if err := json.Unmarshal(data, &b); err != nil {
		return RemoteBackup{}, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	if err := b.check(); err != nil {
		return RemoteBackup{}, err
	}
	return b, nil
}

// Pack returns the gzip-compressed JSON document.
func Pack(b RemoteBackup) ([]byte, error) {
	raw, err := Marshal(b)
	if err != nil {
		return nil, err
	}
	return codec.Compress(raw)
}

// Unpack decompresses and parses downloaded file content. It also returns
// the decompressed JSON. Uncompressed JSON is accepted as is.
func Unpack(content []byte) (RemoteBackup, []byte, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return RemoteBackup{}, nil, ErrEmptyContent
	}
	if trimmed[0] == '{' {
		b, err := Unmarshal(trimmed)
		return b, trimmed, err
	}
	raw, err := codec.Decompress(content)
	if err != nil {
		if errors.Is(err, codec.ErrEmptyInput) {
			return RemoteBackup{}, nil, ErrEmptyContent
		}
		return RemoteBackup{}, nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	b, err := Unmarshal(raw)
	return b, raw, err
}

func (b RemoteBackup) check() error {
	if len(b.Data) == 0 {
		return fmt.Errorf("%w: data is empty", ErrInvalidBackup)
	}
	if len(b.Data[0].Children) == 0 {
		return fmt.Errorf("%w: root has no children", ErrInvalidBackup)
	}
	return nil
}

const schemaURL = "backup.schema.json"

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["metadata", "data"],
  "properties": {
    "metadata": {
      "type": "object",
      "required": ["timestamp"],
      "properties": {
        "timestamp": {"type": "number"},
        "clientVersion": {"type": "string"}
      }
    },
    "data": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/$defs/node"},
      "prefixItems": [{
        "type": "object",
        "required": ["children"],
        "properties": {"children": {"type": "array", "minItems": 1}}
      }]
    }
  },
  "$defs": {
    "node": {
      "type": "object",
      "properties": {
        "title": {"type": "string"},
        "url": {"type": "string"},
        "fingerprint": {"type": "string"},
        "id": {"type": "string"},
        "folderType": {"type": "string"},
        "children": {"type": "array", "items": {"$ref": "#/$defs/node"}}
      }
    }
  }
}`

var compiled = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
})

func validate(data []byte) error {
	sch, err := compiled()
	if err != nil {
		return fmt.Errorf("compile backup schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	return nil
}

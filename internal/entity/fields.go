// Package entity converts between the service's wire envelope and decrypted
// in-memory entities: per-field encryption/compression flags, association
// resolution, and the LZ4-compressed string codec.
package entity

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/tuta-cli/tuta-export/internal/cryptoprim"
	"github.com/tuta-cli/tuta-export/internal/errs"
)

// FieldType is the declared post-decrypt interpretation of an entity field.
type FieldType int

const (
	FieldString FieldType = iota
	FieldDate
	FieldNumber
	FieldBytes
	FieldBoolean
)

// FieldDef is one row of an entity's static field table: name, declared
// type, and the encrypted/compressed/required flags that drive decoding.
// This is the data-driven table the codec runs off instead of generated,
// per-entity decode classes.
type FieldDef struct {
	Name       string
	Type       FieldType
	Encrypted  bool
	Compressed bool
	Required   bool
}

// FieldDecryptError isolates a single field's decrypt/decode failure so it
// does not cascade into the rest of the entity.
type FieldDecryptError struct {
	Field string
	Err   error
}

func (e *FieldDecryptError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *FieldDecryptError) Unwrap() error { return e.Err }

// compressedMarker is the leading byte a compressed String field's
// plaintext carries: 1 means the remainder is an LZ4 block, 0 means it is
// raw UTF-8.
const compressedMarker = 1

// decodeRecord runs every FieldDef in defs against raw, returning the
// decoded values by name and, separately, one error per field that failed
// without aborting the rest of the entity. Every def gets an entry in the
// returned map; a failed or missing field carries its type's zero value,
// so callers can assert value types without a presence check.
func decodeRecord(raw map[string]json.RawMessage, defs []FieldDef, sessionKey []byte) (map[string]any, []error) {
	values := make(map[string]any, len(defs))
	var softErrors []error

	for _, def := range defs {
		msg, present := raw[def.Name]
		if !present || string(msg) == "null" {
			if def.Required {
				softErrors = append(softErrors, errs.New(errs.KindCodec, "decode record",
					fmt.Errorf("missing required field %q", def.Name)))
			}
			values[def.Name] = zeroValue(def.Type)
			continue
		}

		v, err := decodeField(def, msg, sessionKey)
		if err != nil {
			softErrors = append(softErrors, &FieldDecryptError{Field: def.Name, Err: err})
			values[def.Name] = zeroValue(def.Type)
			continue
		}
		values[def.Name] = v
	}

	return values, softErrors
}

func zeroValue(t FieldType) any {
	switch t {
	case FieldString:
		return ""
	case FieldDate:
		return int64(0)
	case FieldNumber:
		return int64(0)
	case FieldBytes:
		return []byte{}
	case FieldBoolean:
		return false
	default:
		return nil
	}
}

func decodeField(def FieldDef, msg json.RawMessage, sessionKey []byte) (any, error) {
	if !def.Encrypted {
		return decodePlainField(def, msg)
	}

	var encoded string
	if err := json.Unmarshal(msg, &encoded); err != nil {
		return nil, errs.New(errs.KindCodec, "decode field "+def.Name, err)
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errs.New(errs.KindCodec, "base64 decode field "+def.Name, err)
	}

	if len(blob) == 0 {
		return zeroValue(def.Type), nil
	}

	plain, err := cryptoprim.DecryptValue(sessionKey, blob)
	if err != nil {
		return nil, err
	}
	if len(plain) == 0 {
		return zeroValue(def.Type), nil
	}

	return interpret(def, plain)
}

func decodePlainField(def FieldDef, msg json.RawMessage) (any, error) {
	switch def.Type {
	case FieldString:
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return nil, errs.New(errs.KindCodec, "decode plain field "+def.Name, err)
		}
		return s, nil
	case FieldBoolean:
		var b bool
		if err := json.Unmarshal(msg, &b); err != nil {
			return nil, errs.New(errs.KindCodec, "decode plain field "+def.Name, err)
		}
		return b, nil
	default:
		return nil, errs.New(errs.KindCodec, "decode plain field "+def.Name,
			fmt.Errorf("unsupported plain field type"))
	}
}

func interpret(def FieldDef, plain []byte) (any, error) {
	switch def.Type {
	case FieldString:
		text := plain
		if def.Compressed {
			if plain[0] == compressedMarker {
				decoded, err := cryptoprim.DecodeLZ4(plain[1:])
				if err != nil {
					return nil, err
				}
				text = decoded
			} else {
				text = plain[1:]
			}
		}
		if !utf8.Valid(text) {
			return nil, errs.New(errs.KindCrypto, "interpret string field", cryptoprim.ErrUTF8Mismatch)
		}
		return string(text), nil
	case FieldDate:
		if len(plain) != 8 {
			return nil, errs.New(errs.KindCodec, "interpret date field",
				fmt.Errorf("expected 8 bytes, got %d", len(plain)))
		}
		millis := binary.BigEndian.Uint64(plain)
		return int64(millis), nil
	case FieldNumber:
		n, err := strconv.ParseInt(string(plain), 10, 64)
		if err != nil {
			return nil, errs.New(errs.KindCodec, "interpret number field", err)
		}
		return n, nil
	case FieldBytes:
		return plain, nil
	case FieldBoolean:
		if len(plain) != 1 || (plain[0] != 0 && plain[0] != 1) {
			return nil, errs.New(errs.KindCodec, "interpret boolean field",
				fmt.Errorf("expected single 0/1 byte, got %v", plain))
		}
		return plain[0] == 1, nil
	default:
		return nil, errs.New(errs.KindCodec, "interpret field", fmt.Errorf("unknown field type"))
	}
}

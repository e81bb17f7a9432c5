package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	TypeHello:    "schemas/hello.schema.json",
	TypeWelcome:  "schemas/welcome.schema.json",
	TypeRequest:  "schemas/request.schema.json",
	TypeResponse: "schemas/response.schema.json",
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		out := make(map[string]*jsonschema.Schema, len(schemaFiles))
		for typ, name := range schemaFiles {
			raw, err := schemaFS.ReadFile(name)
			if err != nil {
				schemasErr = err
				return
			}
			s, err := jsonschema.CompileString(name, string(raw))
			if err != nil {
				schemasErr = fmt.Errorf("compile %s: %w", name, err)
				return
			}
			out[typ] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// ValidationError reports a message rejected by its schema.
type ValidationError struct {
	Type string
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Type == "" {
		return ErrProtoBadRequest + ": " + e.Err.Error()
	}
	return ErrProtoBadRequest + ": " + e.Type + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate checks b against the schema for its type and protocol version.
func Validate(b []byte) (BaseMessage, error) {
	set, err := loadSchemas()
	if err != nil {
		return BaseMessage{}, err
	}
	base, err := DecodeBase(b)
	if err != nil {
		return base, &ValidationError{Err: err}
	}
	s, ok := set[base.Type]
	if !ok {
		return base, &ValidationError{Type: base.Type, Err: fmt.Errorf("unknown message type %q", base.Type)}
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return base, &ValidationError{Type: base.Type, Err: err}
	}
	if err := s.Validate(doc); err != nil {
		return base, &ValidationError{Type: base.Type, Err: err}
	}
	if base.ProtocolVersion != Version {
		return base, &ValidationError{Type: base.Type, Err: fmt.Errorf("bad protocol_version %q", base.ProtocolVersion)}
	}
	return base, nil
}

// Decode validates b and unmarshals it into v.
func Decode(b []byte, v any) (BaseMessage, error) {
	base, err := Validate(b)
	if err != nil {
		return base, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return base, &ValidationError{Type: base.Type, Err: err}
	}
	return base, nil
}

//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package schema derives tool argument schemas from Go types.
package schema

import (
	"reflect"
	"strings"

	"trpc.group/trpc-go/trpc-agent-studio/tool"
)

// Generate returns the JSON schema of t. Struct fields without omitempty
// and not pointers are required.
func Generate(t reflect.Type) *tool.Schema {
	if t == nil {
		return &tool.Schema{Type: "object"}
	}
	if t.Kind() == reflect.Ptr {
		return Generate(t.Elem())
	}
	if t.Kind() != reflect.Struct {
		return field(t)
	}
	s := &tool.Schema{Type: "object", Properties: map[string]*tool.Schema{}}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, omitEmpty, skip := jsonName(f)
		if skip {
			continue
		}
		prop := field(f.Type)
		if desc := f.Tag.Get("description"); desc != "" {
			prop.Description = desc
		}
		s.Properties[name] = prop
		if f.Type.Kind() != reflect.Ptr && !omitEmpty {
			s.Required = append(s.Required, name)
		}
	}
	return s
}

func field(t reflect.Type) *tool.Schema {
	switch t.Kind() {
	case reflect.String:
		return &tool.Schema{Type: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &tool.Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &tool.Schema{Type: "number"}
	case reflect.Bool:
		return &tool.Schema{Type: "boolean"}
	case reflect.Slice, reflect.Array:
		return &tool.Schema{Type: "array", Items: field(t.Elem())}
	case reflect.Map:
		return &tool.Schema{Type: "object", AdditionalProperties: field(t.Elem())}
	case reflect.Ptr:
		return field(t.Elem())
	case reflect.Struct:
		nested := Generate(t)
		nested.Required = nil
		return nested
	default:
		return &tool.Schema{Type: "object"}
	}
}

func jsonName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	if !f.IsExported() {
		return "", false, true
	}
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = f.Name
	if tag == "" {
		return name, false, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

package command

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FieldType describes input type.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInt
	FieldFile
)

// Transport says how a command reaches the server.
type Transport int

const (
	// TransportHTTP sends one request to the REST surface.
	TransportHTTP Transport = iota
	// TransportEvent sends one frame on the open WebSocket session.
	TransportEvent
)

// PayloadShape is the form of an event payload.
type PayloadShape int

const (
	PayloadNone PayloadShape = iota
	// PayloadScalar sends the first field as a bare JSON string.
	PayloadScalar
	// PayloadObject sends every field under its wire key.
	PayloadObject
)

// Field defines a CLI input field.
type Field struct {
	Name     string
	Aliases  []string
	Prompt   string
	Type     FieldType
	Required bool

	// Wire is the JSON key of the field in an event payload or the query
	// parameter of an HTTP request. Empty keeps the field local.
	Wire string

	// Default is used when the field is absent. The special value
	// "$match" resolves to the current match of the session.
	Default string
}

// Command defines a CLI command binding.
type Command struct {
	Group        string
	Action       string
	Help         string
	Transport    Transport
	Method       string
	PathTemplate string
	Event        string
	Payload      PayloadShape
	Fields       []Field
}

// Key returns the registry key of the command.
func (c Command) Key() string {
	return c.Group + " " + c.Action
}

// RequestSpec is the built HTTP request.
type RequestSpec struct {
	Method string
	Path   string
	Body   []byte
}

// EventSpec is the built WebSocket frame.
type EventSpec struct {
	Event string
	Data  any
}

// Params holds parsed input params.
type Params map[string]string

func (p Params) Get(key string) string {
	return p[strings.ToLower(key)]
}

func (p Params) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

func (p Params) Has(key string) bool {
	_, ok := p[strings.ToLower(key)]
	return ok
}

func (p Params) Canonicalize(fields []Field) {
	for _, field := range fields {
		for _, alias := range field.Aliases {
			aliasKey := strings.ToLower(alias)
			if value, ok := p[aliasKey]; ok {
				p[strings.ToLower(field.Name)] = value
				delete(p, aliasKey)
			}
		}
	}
}

// ParseArgs turns key=value tokens into Params.
func ParseArgs(tokens []string) (Params, error) {
	params := Params{}
	for _, token := range tokens {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param: %s", token)
		}
		params.Set(key, value)
	}
	return params, nil
}

func ParseInt(value string) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
	return int(n), err
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}

package output

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/report"
)

// Format selects a renderer
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts text (or table), json and yaml (or yml)
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "table":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", errors.InvalidConfigf("format", "%q is not one of text, json, yaml", s)
}

// Formatter renders an envelope
type Formatter interface {
	Format(env *report.Envelope, w io.Writer) error
}

// NewFormatter returns the renderer for f
func NewFormatter(f Format) Formatter {
	switch f {
	case FormatJSON:
		return &JSONFormatter{Indent: "  "}
	case FormatYAML:
		return &YAMLFormatter{}
	default:
		return &TextFormatter{}
	}
}

// JSONFormatter writes the envelope as one JSON document
type JSONFormatter struct {
	Indent string
}

func (f *JSONFormatter) Format(env *report.Envelope, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if f.Indent != "" {
		enc.SetIndent("", f.Indent)
	}
	if err := enc.Encode(env); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityHigh, "encode json report")
	}
	return nil
}

// YAMLFormatter writes the envelope as YAML with the same field names and
// order as the JSON document.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(env *report.Envelope, w io.Writer) error {
	return writeYAML(w, env)
}

// WriteValue renders a view that is not an envelope, such as the partner
// list of one file or the archive index. Text falls back to JSON.
func WriteValue(w io.Writer, f Format, v any) error {
	if f == FormatYAML {
		return writeYAML(w, v)
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityHigh, "encode json")
	}
	return nil
}

func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityHigh, "encode report")
	}
	// JSON is a YAML subset; decoding into a node keeps key order
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityHigh, "convert report to yaml")
	}
	blockStyle(&doc)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityHigh, "encode yaml report")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityHigh, "encode yaml report")
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// blockStyle drops the flow and quoting styles inherited from JSON
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// Decode reads an envelope written by JSONFormatter
func Decode(r io.Reader) (*report.Envelope, error) {
	var env report.Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityMedium, "decode report")
	}
	return &env, nil
}

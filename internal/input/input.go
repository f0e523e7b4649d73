// Package input reads batch requests from JSON, JSONL, YAML or plain text.
//
// Every format accepts either bare URL strings or objects with a "url" key
// and an optional "passthrough" value that is carried into the result.
package input

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/tabfetch/pkg/fetcher"
)

// Format is an input encoding.
type Format string

const (
	FormatAuto  Format = ""
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
	FormatText  Format = "text"
)

// FormatFromPath guesses the format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".yaml", ".yml":
		return FormatYAML
	case ".txt", ".list":
		return FormatText
	default:
		return FormatAuto
	}
}

// Read parses all requests from r.
func Read(r io.Reader, format Format) ([]fetcher.Request, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if format == FormatAuto {
		format = sniff(data)
	}

	switch format {
	case FormatJSON:
		return parseJSON(data)
	case FormatJSONL:
		return parseJSONL(data)
	case FormatYAML:
		return parseYAML(data)
	case FormatText:
		return parseText(data), nil
	default:
		return nil, fmt.Errorf("unsupported input format: %s", format)
	}
}

// sniff picks a format from the first significant character.
func sniff(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0:
		return FormatText
	case trimmed[0] == '[':
		return FormatJSON
	case trimmed[0] == '{':
		return FormatJSONL
	case bytes.HasPrefix(trimmed, []byte("- ")) || bytes.Contains(trimmed, []byte("url:")):
		return FormatYAML
	default:
		return FormatText
	}
}

func parseJSON(data []byte) ([]fetcher.Request, error) {
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse JSON input: %w", err)
	}
	return toRequests(items)
}

func parseJSONL(data []byte) ([]fetcher.Request, error) {
	var items []any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var item any
		if err := json.Unmarshal([]byte(text), &item); err != nil {
			return nil, fmt.Errorf("parse JSONL input line %d: %w", line, err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read JSONL input: %w", err)
	}
	return toRequests(items)
}

func parseYAML(data []byte) ([]fetcher.Request, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse YAML input: %w", err)
	}
	switch v := doc.(type) {
	case nil:
		return []fetcher.Request{}, nil
	case []any:
		return toRequests(v)
	default:
		// A single mapping is one request.
		return toRequests([]any{v})
	}
}

func parseText(data []byte) []fetcher.Request {
	reqs := []fetcher.Request{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		reqs = append(reqs, fetcher.Request{URL: line})
	}
	return reqs
}

func toRequests(items []any) ([]fetcher.Request, error) {
	reqs := make([]fetcher.Request, 0, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case string:
			reqs = append(reqs, fetcher.Request{URL: strings.TrimSpace(v)})
		case map[string]any:
			u, ok := v["url"].(string)
			if !ok {
				return nil, fmt.Errorf("item %d: missing string \"url\" field", i)
			}
			reqs = append(reqs, fetcher.Request{URL: strings.TrimSpace(u), Passthrough: v["passthrough"]})
		default:
			return nil, fmt.Errorf("item %d: expected a URL string or an object, got %T", i, item)
		}
	}
	return reqs, nil
}

// Package writer provides JSON and gzip-compressed JSON encoders for snapshot data.
package writer

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Encoder writes values of type T.
type Encoder[T any] interface {
	Write(data T, writer io.Writer) error
	// Extension is the file extension of the encoded form, including the dot.
	Extension() string
}

// JSONWriter writes data as JSON.
type JSONWriter[T any] struct {
	// Indent specifies the indentation for pretty printing.
	// Empty string means compact output.
	Indent string
}

// NewJSONWriter creates a new JSON writer with compact output.
func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: ""}
}

// NewPrettyJSONWriter creates a JSON writer with pretty printing.
func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

// Write writes the data as JSON to the writer.
func (w *JSONWriter[T]) Write(data T, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	if w.Indent != "" {
		encoder.SetIndent("", w.Indent)
	}
	return encoder.Encode(data)
}

// Extension implements Encoder.
func (w *JSONWriter[T]) Extension() string {
	return ".json"
}

// GzipWriter writes data as gzipped JSON.
type GzipWriter[T any] struct {
	// CompressionLevel is the gzip compression level (1-9).
	CompressionLevel int
}

// NewGzipWriter creates a new gzip writer with default compression.
func NewGzipWriter[T any]() *GzipWriter[T] {
	return &GzipWriter[T]{CompressionLevel: gzip.DefaultCompression}
}

// NewGzipWriterWithLevel creates a gzip writer with specified compression level.
func NewGzipWriterWithLevel[T any](level int) *GzipWriter[T] {
	return &GzipWriter[T]{CompressionLevel: level}
}

// Write writes the data as gzipped JSON to the writer.
func (w *GzipWriter[T]) Write(data T, writer io.Writer) error {
	gzWriter, err := gzip.NewWriterLevel(writer, w.CompressionLevel)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	defer gzWriter.Close()

	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	return gzWriter.Close()
}

// Extension implements Encoder.
func (w *GzipWriter[T]) Extension() string {
	return ".json.gz"
}

// ForFormat returns the encoder for a configured format name: json or gzip.
func ForFormat[T any](format string) (Encoder[T], error) {
	switch strings.ToLower(format) {
	case "", "json":
		return NewJSONWriter[T](), nil
	case "gzip", "gz":
		return NewGzipWriter[T](), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// WriteResult contains statistics about encoded output.
type WriteResult struct {
	JSONSize       int64
	CompressedSize int64
	CompressionPct float64
}

// Encode encodes data into memory and reports the plain JSON size next to the encoded size.
func Encode[T any](enc Encoder[T], data T) ([]byte, *WriteResult, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal data: %w", err)
	}

	var buf bytes.Buffer
	if err := enc.Write(data, &buf); err != nil {
		return nil, nil, err
	}

	res := &WriteResult{
		JSONSize:       int64(len(jsonData)),
		CompressedSize: int64(buf.Len()),
	}
	if res.JSONSize > 0 {
		res.CompressionPct = float64(res.CompressedSize) / float64(res.JSONSize) * 100
	}
	return buf.Bytes(), res, nil
}

// WriteToFile encodes data into a file.
func WriteToFile[T any](enc Encoder[T], data T, filepath string) error {
	file, err := os.Create(filepath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := enc.Write(data, file); err != nil {
		return err
	}
	return file.Close()
}

// ReadJSON decodes a JSON value, transparently decompressing gzip input.
func ReadJSON[T any](r io.Reader) (T, error) {
	var out T
	br := &peekReader{r: r}
	magic, err := br.peek(2)
	if err != nil {
		return out, fmt.Errorf("failed to read input: %w", err)
	}

	var src io.Reader = br
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return out, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		src = gz
	}
	if err := json.NewDecoder(src).Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode data: %w", err)
	}
	return out, nil
}

// peekReader lets the first bytes of a stream be inspected and then read again.
type peekReader struct {
	r    io.Reader
	head []byte
}

func (p *peekReader) peek(n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(p.r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	p.head = buf[:got]
	return p.head, nil
}

func (p *peekReader) Read(b []byte) (int, error) {
	if len(p.head) > 0 {
		n := copy(b, p.head)
		p.head = p.head[n:]
		return n, nil
	}
	return p.r.Read(b)
}

package writer

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type testData struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestJSONWriter_Write(t *testing.T) {
	data := testData{Name: "test", Value: 42}

	t.Run("compact output", func(t *testing.T) {
		w := NewJSONWriter[testData]()
		var buf bytes.Buffer
		if err := w.Write(data, &buf); err != nil {
			t.Fatalf("Write failed: %v", err)
		}

		expected := `{"name":"test","value":42}` + "\n"
		if buf.String() != expected {
			t.Errorf("got %q, want %q", buf.String(), expected)
		}
	})

	t.Run("pretty output", func(t *testing.T) {
		w := NewPrettyJSONWriter[testData]()
		var buf bytes.Buffer
		if err := w.Write(data, &buf); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if !strings.Contains(buf.String(), "\n  \"name\"") {
			t.Errorf("output not indented: %q", buf.String())
		}

		var decoded testData
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("Failed to decode output: %v", err)
		}
		if decoded != data {
			t.Errorf("decoded data mismatch: got %+v, want %+v", decoded, data)
		}
	})
}

func TestGzipWriter_Write(t *testing.T) {
	data := testData{Name: "compressed", Value: 7}
	w := NewGzipWriterWithLevel[testData](gzip.BestCompression)

	var buf bytes.Buffer
	if err := w.Write(data, &buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	gz, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatalf("output is not gzip: %v", err)
	}
	content, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("Failed to decompress: %v", err)
	}

	var decoded testData
	if err := json.Unmarshal(content, &decoded); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if decoded != data {
		t.Errorf("decoded data mismatch: got %+v, want %+v", decoded, data)
	}
}

func TestGzipWriter_InvalidLevel(t *testing.T) {
	w := NewGzipWriterWithLevel[testData](42)
	if err := w.Write(testData{}, io.Discard); err == nil {
		t.Error("expected error for invalid compression level")
	}
}

func TestForFormat(t *testing.T) {
	tests := []struct {
		format  string
		ext     string
		wantErr bool
	}{
		{"", ".json", false},
		{"json", ".json", false},
		{"JSON", ".json", false},
		{"gzip", ".json.gz", false},
		{"gz", ".json.gz", false},
		{"hprof", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			enc, err := ForFormat[testData](tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ForFormat failed: %v", err)
			}
			if enc.Extension() != tt.ext {
				t.Errorf("extension = %q, want %q", enc.Extension(), tt.ext)
			}
		})
	}
}

func TestEncode_Stats(t *testing.T) {
	data := testData{Name: strings.Repeat("a", 1000), Value: 1}

	raw, res, err := Encode[testData](NewJSONWriter[testData](), data)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// the encoder appends a newline
	if res.CompressedSize != res.JSONSize+1 || int64(len(raw)) != res.CompressedSize {
		t.Errorf("unexpected sizes: %+v, %d bytes", res, len(raw))
	}

	zipped, res, err := Encode[testData](NewGzipWriter[testData](), data)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if res.CompressedSize >= res.JSONSize {
		t.Errorf("gzip did not shrink repetitive data: %+v", res)
	}
	if res.CompressionPct <= 0 || res.CompressionPct >= 100 {
		t.Errorf("compression pct out of range: %f", res.CompressionPct)
	}
	if int64(len(zipped)) != res.CompressedSize {
		t.Errorf("compressed size %d, got %d bytes", res.CompressedSize, len(zipped))
	}
}

func TestReadJSON(t *testing.T) {
	data := testData{Name: "round", Value: 3}

	for _, enc := range []Encoder[testData]{NewJSONWriter[testData](), NewGzipWriter[testData]()} {
		t.Run(enc.Extension(), func(t *testing.T) {
			var buf bytes.Buffer
			if err := enc.Write(data, &buf); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			got, err := ReadJSON[testData](&buf)
			if err != nil {
				t.Fatalf("ReadJSON failed: %v", err)
			}
			if got != data {
				t.Errorf("got %+v, want %+v", got, data)
			}
		})
	}

	if _, err := ReadJSON[testData](strings.NewReader("")); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestWriteToFile(t *testing.T) {
	data := testData{Name: "test", Value: 42}
	filePath := filepath.Join(t.TempDir(), "test.json.gz")

	if err := WriteToFile[testData](NewGzipWriter[testData](), data, filePath); err != nil {
		t.Fatalf("WriteToFile failed: %v", err)
	}

	f, err := os.Open(filePath)
	if err != nil {
		t.Fatalf("Failed to open file: %v", err)
	}
	defer f.Close()

	got, err := ReadJSON[testData](f)
	if err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got != data {
		t.Errorf("got %+v, want %+v", got, data)
	}

	if err := WriteToFile[testData](NewJSONWriter[testData](), data, filepath.Join(t.TempDir(), "missing", "x.json")); err == nil {
		t.Error("expected error for missing directory")
	}
}

package js

import (
	"compress/gzip"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// Compression is how a recording file is compressed.
type Compression string

// Supported recording compressions, picked by the file extension.
const (
	CompressionNone   Compression = ""
	CompressionGzip   Compression = "gzip"
	CompressionZstd   Compression = "zstd"
	CompressionBrotli Compression = "br"
)

// CompressionOf returns the compression of the recording at name and the
// name without the compression extension.
func CompressionOf(name string) (Compression, string) {
	switch ext := path.Ext(name); strings.ToLower(ext) {
	case ".gz":
		return CompressionGzip, strings.TrimSuffix(name, ext)
	case ".zst":
		return CompressionZstd, strings.TrimSuffix(name, ext)
	case ".br":
		return CompressionBrotli, strings.TrimSuffix(name, ext)
	default:
		return CompressionNone, name
	}
}

// decompress reads all of r, decoding it as c.
func decompress(c Compression, r io.Reader) ([]byte, error) {
	var decoder io.Reader
	switch c {
	case CompressionNone:
		decoder = r
	case CompressionGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gr.Close() }()
		decoder = gr
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		decoder = zr
	case CompressionBrotli:
		decoder = brotli.NewReader(r)
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
	return io.ReadAll(decoder)
}

package recordlog

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressedSuffix marks recordings compressed with zstd.
const CompressedSuffix = ".zst"

type zstdFile struct {
	dec  *zstd.Decoder
	file *os.File
}

func (z *zstdFile) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdFile) Close() error {
	z.dec.Close()
	return z.file.Close()
}

// Open opens a recording for reading, decompressing it when the name ends in
// CompressedSuffix.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open the record log %s: %w", path, err)
	}
	if !strings.HasSuffix(path, CompressedSuffix) {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to open the zstd stream %s: %w", path, err)
	}
	return &zstdFile{dec: dec, file: f}, nil
}

// Compress writes a zstd copy of the recording at src to dst.
func Compress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(out)
	if err != nil {
		_ = out.Close()
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		_ = enc.Close()
		_ = out.Close()
		return fmt.Errorf("failed to compress %s: %w", src, err)
	}
	if err := enc.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

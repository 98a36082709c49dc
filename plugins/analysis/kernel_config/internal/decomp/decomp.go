// Package decomp expands gzip, xz, lzma and bzip2 streams recognized by
// their magic bytes.
package decomp

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/platinummonkey/factcore/pkg/plugins"
)

// Identity is the module identity plugins import this helper by
const Identity = "plugins.analysis.kernel_config.internal.decomp"

// DefaultLimit caps the size of decompressed output
const DefaultLimit = 64 << 20

// ErrTooLarge is returned when decompressed output exceeds the limit
var ErrTooLarge = errors.New("decompressed data exceeds limit")

// Format is a compression format
type Format string

const (
	None  Format = "none"
	Gzip  Format = "gzip"
	XZ    Format = "xz"
	LZMA  Format = "lzma"
	Bzip2 Format = "bzip2"
)

// scanOrder is the order formats are tried in by Scan
var scanOrder = []Format{Gzip, XZ, LZMA, Bzip2}

var (
	magic = map[Format][]byte{
		Gzip:  {0x1f, 0x8b},
		XZ:    {0xfd, '7', 'z', 'X', 'Z', 0x00},
		LZMA:  {0x5d, 0x00, 0x00, 0x00},
		Bzip2: []byte("BZh"),
	}

	// in-kernel configuration (CONFIG_IKCONFIG) is a gzip stream between these markers
	ikcfgStart = []byte("IKCFG_ST")
	ikcfgEnd   = []byte("IKCFG_ED")
)

func init() {
	plugins.MustRegisterHelper(Identity, func(*plugins.Env) (any, error) {
		return New(DefaultLimit), nil
	})
}

func hasMagic(data []byte, format Format) bool {
	if !bytes.HasPrefix(data, magic[format]) {
		return false
	}
	if format == Bzip2 {
		// block size digit
		return len(data) > 3 && data[3] >= '1' && data[3] <= '9'
	}
	return true
}

// Detect returns the compression format data starts with
func Detect(data []byte) Format {
	for _, format := range scanOrder {
		if hasMagic(data, format) {
			return format
		}
	}
	return None
}

// Decompressor expands compressed data up to Limit bytes
type Decompressor struct {
	Limit int64
}

// New creates a decompressor; a non-positive limit means DefaultLimit
func New(limit int64) *Decompressor {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Decompressor{Limit: limit}
}

// Decompress expands data according to the format it starts with.
// Uncompressed data is returned as is.
func (d *Decompressor) Decompress(data []byte) ([]byte, Format, error) {
	format := Detect(data)
	if format == None {
		return data, None, nil
	}
	out, err := d.expand(format, data)
	if err != nil {
		return nil, format, err
	}
	return out, format, nil
}

// Stream is a compressed stream found by Scan
type Stream struct {
	Format Format
	Offset int
	Data   []byte
}

// Scan looks for the magic bytes of each format anywhere in data and
// decompresses the stream at every occurrence. Formats are tried in the
// order gzip, xz, lzma, bzip2 and the streams of the first format that
// yields any output are returned. Occurrences that fail to decompress or
// expand to nothing are skipped.
func (d *Decompressor) Scan(data []byte) []Stream {
	for _, format := range scanOrder {
		var streams []Stream
		for _, offset := range occurrences(data, magic[format]) {
			if !hasMagic(data[offset:], format) {
				continue
			}
			out, err := d.expand(format, data[offset:])
			if err != nil || len(out) == 0 {
				continue
			}
			streams = append(streams, Stream{Format: format, Offset: offset, Data: out})
		}
		if len(streams) > 0 {
			return streams
		}
	}
	return nil
}

func occurrences(data, sep []byte) []int {
	var offsets []int
	for i := 0; i < len(data); {
		j := bytes.Index(data[i:], sep)
		if j < 0 {
			break
		}
		offsets = append(offsets, i+j)
		i += j + 1
	}
	return offsets
}

// expand decompresses the single stream of format at the start of data.
// Trailing bytes after the stream are ignored. A truncated gzip stream
// yields the output decoded before the cut.
func (d *Decompressor) expand(format Format, data []byte) ([]byte, error) {
	src := bytes.NewReader(data)

	var (
		r   io.Reader
		err error
	)
	switch format {
	case Gzip:
		var zr *gzip.Reader
		if zr, err = gzip.NewReader(src); err == nil {
			zr.Multistream(false)
			r = zr
		}
	case XZ:
		r, err = xz.ReaderConfig{SingleStream: true}.NewReader(src)
	case LZMA:
		r, err = lzma.NewReader(src)
	case Bzip2:
		r = bzip2.NewReader(src)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s stream: %w", format, err)
	}

	out, err := io.ReadAll(io.LimitReader(r, d.Limit+1))
	if int64(len(out)) > d.Limit {
		return nil, ErrTooLarge
	}
	if err != nil && len(out) > 0 && (trailingData(format, err) || truncatedGzip(format, err)) {
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s stream: %w", format, err)
	}
	return out, nil
}

// trailingData reports whether err was raised by bytes following a
// complete stream, which is how compressed blobs sit inside an image.
func trailingData(format Format, err error) bool {
	switch format {
	case XZ:
		return strings.HasSuffix(err.Error(), "unexpected data after stream")
	case Bzip2:
		return errors.Is(err, bzip2.StructuralError("bad magic value in continuation file"))
	}
	return false
}

func truncatedGzip(format Format, err error) bool {
	return format == Gzip && errors.Is(err, io.ErrUnexpectedEOF)
}

// Embedded extracts a configuration embedded in a kernel image between the
// IKCFG markers. ok is false when data carries no such block.
func (d *Decompressor) Embedded(data []byte) (config []byte, ok bool, err error) {
	start := bytes.Index(data, ikcfgStart)
	if start < 0 {
		return nil, false, nil
	}
	block := data[start+len(ikcfgStart):]
	if end := bytes.Index(block, ikcfgEnd); end >= 0 {
		block = block[:end]
	}
	if Detect(block) != Gzip {
		return nil, false, nil
	}
	out, err := d.expand(Gzip, block)
	if err != nil {
		return nil, true, err
	}
	return out, true, nil
}

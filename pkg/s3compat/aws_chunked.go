package s3compat

import (
	"bufio"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"hash"
	"hash/crc32"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/assetguard/assetguard/internal/sigv4"
	"github.com/sirupsen/logrus"
)

var (
	errMalformedChunk   = errors.New("malformed aws-chunked body")
	errDecodedLength    = errors.New("decoded length does not match x-amz-decoded-content-length")
	errTrailingChecksum = errors.New("trailing checksum does not match the body")
)

const (
	maxChunkSize  = 16 << 20
	maxLineLength = 4096
)

// isAWSChunked reports whether the body uses unsigned aws-chunked framing.
// The verifier rejects the signed streaming variants before this point.
func isAWSChunked(r *http.Request) bool {
	return r.Header.Get(headerContentSHA256) == sigv4.StreamingUnsignedTrailer
}

// chunkedBody decodes an aws-chunked upload:
//
//	{hex-size}\r\n{data}\r\n ... 0\r\n{name}:{value}\r\n\r\n
//
// The decoded length and the trailing checksum, if one was announced, are
// verified when the final chunk is read. A mismatch surfaces as a read
// error, so the storage backend discards the partial write.
type chunkedBody struct {
	r         *bufio.Reader
	remaining int64
	decoded   int64
	done      bool

	expectedLen int64 // -1 when the client did not declare it
	trailer     string
	hash        hash.Hash
	trailers    http.Header
}

func newChunkedBody(body io.Reader, h http.Header) (*chunkedBody, error) {
	c := &chunkedBody{
		r:           bufio.NewReaderSize(body, maxLineLength),
		expectedLen: -1,
		trailers:    http.Header{},
	}

	if v := h.Get("X-Amz-Decoded-Content-Length"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, errMalformedChunk
		}
		c.expectedLen = n
	}

	if name := strings.ToLower(strings.TrimSpace(h.Get("X-Amz-Trailer"))); name != "" {
		c.trailer = name
		c.hash = checksumHash(strings.TrimPrefix(name, "x-amz-checksum-"))
		if c.hash == nil {
			logrus.WithField("trailer", name).Debug("Unverified checksum trailer")
		}
	}
	return c, nil
}

func checksumHash(algorithm string) hash.Hash {
	switch algorithm {
	case "crc32":
		return crc32.NewIEEE()
	case "crc32c":
		return crc32.New(crc32.MakeTable(crc32.Castagnoli))
	case "sha1":
		return sha1.New()
	case "sha256":
		return sha256.New()
	}
	return nil
}

func (c *chunkedBody) Read(p []byte) (int, error) {
	for c.remaining == 0 {
		if c.done {
			return 0, io.EOF
		}
		if err := c.nextChunk(); err != nil {
			return 0, err
		}
	}

	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	c.decoded += int64(n)
	if c.hash != nil {
		c.hash.Write(p[:n])
	}

	if c.remaining == 0 && n > 0 {
		if line, lerr := c.readLine(); lerr != nil || line != "" {
			return n, errMalformedChunk
		}
	}
	if err == io.EOF {
		if c.remaining > 0 {
			return n, io.ErrUnexpectedEOF
		}
		err = nil
	}
	return n, err
}

func (c *chunkedBody) nextChunk() error {
	line, err := c.readLine()
	if err != nil {
		return errMalformedChunk
	}
	// Chunk extensions are ignored
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil || size < 0 || size > maxChunkSize {
		return errMalformedChunk
	}
	if size == 0 {
		return c.finish()
	}
	c.remaining = size
	return nil
}

func (c *chunkedBody) finish() error {
	for {
		line, err := c.readLine()
		if line != "" {
			name, value, ok := strings.Cut(line, ":")
			if !ok {
				return errMalformedChunk
			}
			c.trailers.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return errMalformedChunk
		}
		if line == "" {
			break
		}
	}
	c.done = true

	if c.expectedLen >= 0 && c.decoded != c.expectedLen {
		return errDecodedLength
	}
	if c.hash != nil {
		got := base64.StdEncoding.EncodeToString(c.hash.Sum(nil))
		if want := c.trailers.Get(c.trailer); want != got {
			logrus.WithFields(logrus.Fields{
				"trailer":  c.trailer,
				"declared": want,
				"actual":   got,
			}).Debug("Trailing checksum mismatch")
			return errTrailingChecksum
		}
	}
	return nil
}

// readLine returns one line without its line ending. A final line without
// a newline is returned together with io.EOF.
func (c *chunkedBody) readLine() (string, error) {
	b, err := c.r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return "", errMalformedChunk
	}
	return strings.TrimRight(string(b), "\r\n"), err
}

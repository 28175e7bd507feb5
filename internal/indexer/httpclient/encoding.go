package httpclient

import (
	"bytes"
	"io"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DecodeBody converts a response body to UTF-8. Precedence: byte-order
// mark, the definition's configured encoding, the Content-Type charset or
// sniffed document encoding, and finally UTF-8 passthrough. Decode
// failures fall back to the raw bytes so a bad charset never loses a
// response.
func DecodeBody(body []byte, contentType, configuredEncoding string) []byte {
	if len(body) == 0 {
		return body
	}

	if decoded, ok := decodeBOM(body); ok {
		return decoded
	}

	if configuredEncoding != "" {
		if enc, err := htmlindex.Get(configuredEncoding); err == nil {
			if decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(body), enc.NewDecoder())); err == nil {
				return decoded
			}
		}
	}

	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if certain || name != "utf-8" {
		if decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(body), enc.NewDecoder())); err == nil {
			return decoded
		}
	}

	return body
}

// decodeBOM handles UTF-8 and UTF-16 byte-order marks.
func decodeBOM(body []byte) ([]byte, bool) {
	switch {
	case bytes.HasPrefix(body, []byte{0xEF, 0xBB, 0xBF}):
		return body[3:], true
	case bytes.HasPrefix(body, []byte{0xFF, 0xFE}), bytes.HasPrefix(body, []byte{0xFE, 0xFF}):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		if decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(body), dec)); err == nil {
			return decoded, true
		}
	}
	return nil, false
}

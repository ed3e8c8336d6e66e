package sandbox

import (
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrMalformedURI is returned when the input is not valid UTF-8 and so has no
// percent-encoded form.
var ErrMalformedURI = errors.New("sandbox: malformed URI sequence")

// Encoding selects how a sandbox document is packed into a data URI.
type Encoding string

const (
	EncodingURI    Encoding = "uri"
	EncodingBase64 Encoding = "base64"
)

const dataURIPrefix = "data:text/html;charset=utf-8"

// uriReserved holds the bytes encodeURI leaves untouched besides ASCII
// letters and digits.
const uriReserved = ";,/?:@&=+$-_.!~*'()#"

const upperHex = "0123456789ABCDEF"

// EncodeURI percent-encodes s the way ECMAScript encodeURI does: every UTF-8
// byte outside the unreserved and reserved sets becomes %XX.
func EncodeURI(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", ErrMalformedURI
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if keepInURI(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String(), nil
}

func keepInURI(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte(uriReserved, c) >= 0
}

// DataURI packs an HTML document into a data URI.
func DataURI(htmlDoc string, enc Encoding) (string, error) {
	switch enc {
	case EncodingBase64:
		return dataURIPrefix + ";base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc)), nil
	case EncodingURI, "":
		encoded, err := EncodeURI(htmlDoc)
		if err != nil {
			return "", err
		}
		return dataURIPrefix + "," + encoded, nil
	default:
		return "", errors.New("sandbox: unknown encoding " + string(enc))
	}
}

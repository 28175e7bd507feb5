// Package torrentfile validates downloaded torrent payloads and computes
// info hashes. It implements just enough bencode to locate the info
// dictionary; full piece-level parsing is the download client's job.
package torrentfile

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// TorrentFile is the validated metadata of a .torrent payload.
type TorrentFile struct {
	Name     string
	Announce string
	InfoHash string // 40-char lowercase hex
	Size     int64
}

// IsTorrentData reports whether a response body plausibly is a bencoded
// torrent file rather than an HTML error page.
func IsTorrentData(data []byte) bool {
	return len(data) > 0 && data[0] == 'd'
}

// IsMagnetLink reports whether a URL is a magnet link.
func IsMagnetLink(rawURL string) bool {
	return strings.HasPrefix(strings.ToLower(rawURL), "magnet:")
}

// InfoHashFromMagnet extracts the btih hash from a magnet link, lowercased,
// or "" when absent.
func InfoHashFromMagnet(magnet string) string {
	u, err := url.Parse(magnet)
	if err != nil {
		return ""
	}
	for _, xt := range u.Query()["xt"] {
		if h, ok := strings.CutPrefix(strings.ToLower(xt), "urn:btih:"); ok {
			return h
		}
	}
	return ""
}

// Parse validates a bencoded torrent and returns its metadata. The info
// hash is the SHA-1 of the raw bencoded info dictionary.
func Parse(data []byte) (*TorrentFile, error) {
	if !IsTorrentData(data) {
		return nil, fmt.Errorf("not a bencoded dictionary")
	}

	d := &decoder{data: data}
	root, err := d.decodeValue()
	if err != nil {
		return nil, fmt.Errorf("invalid torrent file: %w", err)
	}
	dict, ok := root.(map[string]benValue)
	if !ok {
		return nil, fmt.Errorf("torrent root is not a dictionary")
	}

	infoVal, ok := dict["info"]
	if !ok {
		return nil, fmt.Errorf("torrent has no info dictionary")
	}
	info, ok := infoVal.value.(map[string]benValue)
	if !ok {
		return nil, fmt.Errorf("torrent info is not a dictionary")
	}

	sum := sha1.Sum(data[infoVal.start:infoVal.end])

	tf := &TorrentFile{
		InfoHash: hex.EncodeToString(sum[:]),
	}
	if name, ok := info["name"].value.(string); ok {
		tf.Name = name
	}
	if announce, ok := dict["announce"].value.(string); ok {
		tf.Announce = announce
	}
	tf.Size = totalSize(info)
	return tf, nil
}

// totalSize sums file lengths for both single- and multi-file layouts.
func totalSize(info map[string]benValue) int64 {
	if length, ok := info["length"].value.(int64); ok {
		return length
	}
	files, ok := info["files"].value.([]benValue)
	if !ok {
		return 0
	}
	var total int64
	for _, f := range files {
		if fd, ok := f.value.(map[string]benValue); ok {
			if length, ok := fd["length"].value.(int64); ok {
				total += length
			}
		}
	}
	return total
}

// benValue is a decoded bencode value together with the byte span it
// occupied, so the info dictionary can be hashed verbatim.
type benValue struct {
	value interface{}
	start int
	end   int
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) decodeValue() (interface{}, error) {
	v, err := d.decode()
	if err != nil {
		return nil, err
	}
	return v.value, nil
}

func (d *decoder) decode() (benValue, error) {
	if d.pos >= len(d.data) {
		return benValue{}, fmt.Errorf("unexpected end of data at %d", d.pos)
	}

	start := d.pos
	switch c := d.data[d.pos]; {
	case c == 'i':
		n, err := d.decodeInt()
		return benValue{value: n, start: start, end: d.pos}, err
	case c == 'l':
		l, err := d.decodeList()
		return benValue{value: l, start: start, end: d.pos}, err
	case c == 'd':
		m, err := d.decodeDict()
		return benValue{value: m, start: start, end: d.pos}, err
	case c >= '0' && c <= '9':
		s, err := d.decodeString()
		return benValue{value: s, start: start, end: d.pos}, err
	default:
		return benValue{}, fmt.Errorf("invalid type byte %q at %d", c, d.pos)
	}
}

func (d *decoder) decodeInt() (int64, error) {
	d.pos++ // 'i'
	end := d.pos
	for end < len(d.data) && d.data[end] != 'e' {
		end++
	}
	if end >= len(d.data) {
		return 0, fmt.Errorf("unterminated integer at %d", d.pos)
	}
	n, err := strconv.ParseInt(string(d.data[d.pos:end]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer at %d: %w", d.pos, err)
	}
	d.pos = end + 1
	return n, nil
}

func (d *decoder) decodeString() (string, error) {
	colon := d.pos
	for colon < len(d.data) && d.data[colon] != ':' {
		colon++
	}
	if colon >= len(d.data) {
		return "", fmt.Errorf("unterminated string length at %d", d.pos)
	}
	length, err := strconv.Atoi(string(d.data[d.pos:colon]))
	if err != nil || length < 0 {
		return "", fmt.Errorf("invalid string length at %d", d.pos)
	}
	start := colon + 1
	if start+length > len(d.data) {
		return "", fmt.Errorf("string at %d runs past end of data", d.pos)
	}
	d.pos = start + length
	return string(d.data[start : start+length]), nil
}

func (d *decoder) decodeList() ([]benValue, error) {
	d.pos++ // 'l'
	var items []benValue
	for {
		if d.pos >= len(d.data) {
			return nil, fmt.Errorf("unterminated list")
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return items, nil
		}
		item, err := d.decode()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
}

func (d *decoder) decodeDict() (map[string]benValue, error) {
	d.pos++ // 'd'
	dict := make(map[string]benValue)
	for {
		if d.pos >= len(d.data) {
			return nil, fmt.Errorf("unterminated dictionary")
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return dict, nil
		}
		key, err := d.decodeString()
		if err != nil {
			return nil, err
		}
		val, err := d.decode()
		if err != nil {
			return nil, err
		}
		dict[key] = val
	}
}

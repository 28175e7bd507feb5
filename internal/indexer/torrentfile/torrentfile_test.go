package torrentfile

import (
	"strings"
	"testing"
)

const (
	singleFileTorrent = "d8:announce31:http://tracker.example/announce4:infod6:lengthi1024e4:name8:test.txt12:piece lengthi16384e6:pieces20:AAAAAAAAAAAAAAAAAAAAee"
	multiFileTorrent  = "d8:announce31:http://tracker.example/announce4:infod5:filesld6:lengthi100e4:pathl1:aeed6:lengthi200e4:pathl1:beee4:name3:dir12:piece lengthi16384e6:pieces20:AAAAAAAAAAAAAAAAAAAAee"
)

func TestParseSingleFile(t *testing.T) {
	tf, err := Parse([]byte(singleFileTorrent))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tf.Name != "test.txt" {
		t.Errorf("Name = %q", tf.Name)
	}
	if tf.Announce != "http://tracker.example/announce" {
		t.Errorf("Announce = %q", tf.Announce)
	}
	if tf.Size != 1024 {
		t.Errorf("Size = %d", tf.Size)
	}
	if tf.InfoHash != "2c3d2690295d1a792b615a8a990779f1e26e73c0" {
		t.Errorf("InfoHash = %q", tf.InfoHash)
	}
}

func TestParseMultiFile(t *testing.T) {
	tf, err := Parse([]byte(multiFileTorrent))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tf.Name != "dir" {
		t.Errorf("Name = %q", tf.Name)
	}
	if tf.Size != 300 {
		t.Errorf("Size = %d, want summed file lengths", tf.Size)
	}
	if tf.InfoHash != "553e2088dca3753472aa33c3dd2c028ec01f0e42" {
		t.Errorf("InfoHash = %q", tf.InfoHash)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"html error page", "<html><body>Not found</body></html>"},
		{"truncated dict", "d8:announce31:http://tracker.example/announce"},
		{"no info dict", "d8:announce31:http://tracker.example/announcee"},
		{"info not a dict", "d4:infoi42ee"},
		{"bad integer", "d4:infod6:lengthiXXee"},
		{"string past end", "d4:infod4:name99:shortee"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", tt.data)
			}
		})
	}
}

func TestIsTorrentData(t *testing.T) {
	if !IsTorrentData([]byte(singleFileTorrent)) {
		t.Error("valid torrent rejected")
	}
	if IsTorrentData([]byte("<html>")) {
		t.Error("HTML accepted")
	}
	if IsTorrentData(nil) {
		t.Error("empty data accepted")
	}
}

func TestIsMagnetLink(t *testing.T) {
	if !IsMagnetLink("magnet:?xt=urn:btih:abc") {
		t.Error("magnet link rejected")
	}
	if !IsMagnetLink("MAGNET:?xt=urn:btih:abc") {
		t.Error("uppercase scheme rejected")
	}
	if IsMagnetLink("https://example.org/file.torrent") {
		t.Error("http URL accepted")
	}
}

func TestInfoHashFromMagnet(t *testing.T) {
	hash := "2c3d2690295d1a792b615a8a990779f1e26e73c0"

	tests := []struct {
		name   string
		magnet string
		want   string
	}{
		{"plain", "magnet:?xt=urn:btih:" + hash, hash},
		{"uppercase hash lowered", "magnet:?xt=urn:btih:" + strings.ToUpper(hash), hash},
		{"with trackers", "magnet:?xt=urn:btih:" + hash + "&dn=name&tr=udp%3A%2F%2Ftracker.example%3A80", hash},
		{"no xt", "magnet:?dn=name", ""},
		{"not urn:btih", "magnet:?xt=urn:sha1:abcdef", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InfoHashFromMagnet(tt.magnet); got != tt.want {
				t.Errorf("InfoHashFromMagnet = %q, want %q", got, tt.want)
			}
		})
	}
}

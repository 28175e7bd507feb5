package cardigann

import (
	"testing"

	"gopkg.in/yaml.v3"
)

const sampleDefinitionYAML = `---
id: exampletracker
name: Example Tracker
description: A tracker for testing
language: en-US
type: private
encoding: UTF-8
links:
  - https://example-tracker.org/
  - https://example-tracker.net/
legacylinks:
  - https://example-tracker.to/

caps:
  categorymappings:
    - {id: "41", cat: Movies/HD, desc: "Movies HD"}
    - {id: "52", cat: TV/HD, desc: "TV HD", default: true}
  modes:
    search: [q]
    tv-search: [q, season, ep]
    movie-search: [q, imdbid]

settings:
  - name: username
    type: text
    label: Username
  - name: password
    type: password
    label: Password
  - name: freeleech
    type: checkbox
    label: Freeleech only
  - name: sort
    type: select
    label: Sort by
    default: created
    options:
      created: created
      seeders: seeders

login:
  path: /login.php
  method: form
  form: form#loginform
  inputs:
    username: "{{ .Config.username }}"
    password: "{{ .Config.password }}"
  error:
    - selector: td.embedded:has(h2:contains("failed"))
  test:
    path: /index.php
    selector: a[href="logout.php"]

search:
  paths:
    - path: /browse.php
  inputs:
    search: "{{ .Keywords }}"
    cat: "{{ join .Categories \",\" }}"
  keywordsfilters:
    - name: re_replace
      args: ["\\s+", " "]
  headers:
    Referer: ["{{ .Config.sitelink }}"]
  rows:
    selector: table#torrents > tbody > tr
    after: 1
  fields:
    title:
      selector: a.torrent-title
    download:
      selector: a[href^="download.php"]
      attribute: href
    size:
      selector: td.size
    seeders:
      selector: td.seeds
      optional: true
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(sampleDefinitionYAML))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}

	if def.ID != "exampletracker" || def.Name != "Example Tracker" {
		t.Errorf("identity = %q %q", def.ID, def.Name)
	}
	if def.BaseURL() != "https://example-tracker.org/" {
		t.Errorf("BaseURL = %q", def.BaseURL())
	}
	if urls := def.AllURLs(); len(urls) != 3 || urls[2] != "https://example-tracker.to/" {
		t.Errorf("AllURLs = %v, want mirrors then legacy links", urls)
	}
	if def.GetProtocol() != "torrent" {
		t.Errorf("GetProtocol = %q, want torrent default", def.GetProtocol())
	}
	if def.GetPrivacy() != "private" {
		t.Errorf("GetPrivacy = %q", def.GetPrivacy())
	}
	if !def.HasLogin() {
		t.Error("HasLogin = false")
	}
	if def.Login.Method != "form" || def.Login.Path != "/login.php" {
		t.Errorf("login block = %+v", def.Login)
	}
	if def.Search.Rows.Selector != "table#torrents > tbody > tr" || def.Search.Rows.After != 1 {
		t.Errorf("rows = %+v", def.Search.Rows)
	}
	if len(def.Search.Fields) != 4 {
		t.Errorf("fields = %d", len(def.Search.Fields))
	}
	if !def.Search.Fields["seeders"].Optional {
		t.Error("seeders not optional")
	}
	if len(def.Caps.CategoryMappings) != 2 || !def.Caps.CategoryMappings[1].Default {
		t.Errorf("category mappings = %+v", def.Caps.CategoryMappings)
	}
}

func TestParseDefinitionRejectsMissingID(t *testing.T) {
	if _, err := ParseDefinition([]byte("name: No ID Here\n")); err == nil {
		t.Error("expected error for definition without id")
	}
}

func TestParseDefinitionRejectsBadYAML(t *testing.T) {
	if _, err := ParseDefinition([]byte("id: [unclosed\n")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestSupportsMode(t *testing.T) {
	def, err := ParseDefinition([]byte(sampleDefinitionYAML))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}

	for _, mode := range []string{"search", "tv-search", "movie-search"} {
		if !def.SupportsMode(mode) {
			t.Errorf("SupportsMode(%q) = false", mode)
		}
	}
	for _, mode := range []string{"music-search", "book-search", "nope"} {
		if def.SupportsMode(mode) {
			t.Errorf("SupportsMode(%q) = true", mode)
		}
	}
}

func TestSettingDefaults(t *testing.T) {
	def, err := ParseDefinition([]byte(sampleDefinitionYAML))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}

	merged := def.SettingDefaults(map[string]string{
		"username":  "alice",
		"freeleech": "true",
	})
	if merged["username"] != "alice" {
		t.Errorf("username = %q", merged["username"])
	}
	if merged["sort"] != "created" {
		t.Errorf("sort default = %q", merged["sort"])
	}
	if merged["freeleech"] != "true" {
		t.Errorf("enabled checkbox = %q", merged["freeleech"])
	}

	merged = def.SettingDefaults(map[string]string{"freeleech": "false"})
	if _, ok := merged["freeleech"]; ok {
		t.Error("disabled checkbox should be absent")
	}
	if _, ok := merged["username"]; ok {
		t.Error("unset text setting without default should be absent")
	}
}

func TestStringOrArrayUnmarshal(t *testing.T) {
	var out struct {
		Single StringOrArray `yaml:"single"`
		Multi  StringOrArray `yaml:"multi"`
	}
	data := "single: hello\nmulti:\n  - first\n  - second\n"
	if err := yaml.Unmarshal([]byte(data), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(out.Single) != "hello" {
		t.Errorf("single = %q", out.Single)
	}
	if string(out.Multi) != "first, second" {
		t.Errorf("multi = %q", out.Multi)
	}
}

func TestHeadersAcceptScalarAndSequence(t *testing.T) {
	data := `
id: headertest
name: Header Test
links: [https://h.example/]
search:
  paths:
    - path: /search
  headers:
    Referer: https://h.example/
    Accept: [text/html, application/xhtml+xml]
  rows:
    selector: tr
  fields:
    title: {selector: td.name}
    download: {selector: td.dl}
`
	def, err := ParseDefinition([]byte(data))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	if got := string(def.Search.Headers["Referer"]); got != "https://h.example/" {
		t.Errorf("scalar header = %q", got)
	}
	if got := string(def.Search.Headers["Accept"]); got != "text/html, application/xhtml+xml" {
		t.Errorf("sequence header = %q", got)
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const testTOML = `
[server]
addr = "127.0.0.1:9000"
shutdown_timeout = "2s"

[archive]
dbdir = "/var/lib/crarchive"
footers = ['^_{20,}\s*$', '^Classic Rendezvous mailing list']
group_by_subject = true

[search]
page_size = 50

[import]
include = ["**.mbox"]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "crarchive.toml")
	if err := os.WriteFile(name, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return name
}

func TestLoad(t *testing.T) {
	c, err := Load(writeConfig(t, testTOML))
	if err != nil {
		t.Fatal(err)
	}

	want := Default()
	want.Server.Addr = "127.0.0.1:9000"
	want.Server.ShutdownTimeout = Duration{2 * time.Second}
	want.Archive.DBDir = "/var/lib/crarchive"
	want.Archive.Footers = []string{`^_{20,}\s*$`, `^Classic Rendezvous mailing list`}
	want.Archive.GroupBySubject = true
	want.Search.PageSize = 50
	want.Import.Include = []string{"**.mbox"}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
	if got, want := c.DBFile(), filepath.Join("/var/lib/crarchive", DBName); got != want {
		t.Errorf("DBFile=%q, want %q", got, want)
	}

	tr, err := c.Trimmer()
	if err != nil {
		t.Fatal(err)
	}
	text := "Nice bike.\n\n____________________\nClassic Rendezvous mailing list\n"
	if got, want := tr.Trim(text), "Nice bike."; got != want {
		t.Errorf("Trim=%q, want %q", got, want)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		key     string
	}{
		{"unknown key", "[server]\nport = 80\n", "server.port"},
		{"pool size", "[archive]\npool_size = 0\n", "archive.pool_size"},
		{"bad footer", "[archive]\nfooters = ['(']\n", "archive.footers"},
		{"page size", "[search]\npage_size = -1\n", "search.page_size"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, test.content))
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("err=%v, want *Error", err)
			}
			if cerr.Key != test.key {
				t.Errorf("key=%q, want %q", cerr.Key, test.key)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
	if _, err := Load(writeConfig(t, "[server\n")); err == nil {
		t.Error("Load of invalid TOML succeeded")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CRARCHIVE_ADDR":             ":80",
		"CRARCHIVE_POOL_SIZE":        " 4 ",
		"CRARCHIVE_GROUP_BY_SUBJECT": "true",
		"CRARCHIVE_RATE_LIMIT":       "0.5",
		"CRARCHIVE_DBDIR":            "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	c := Default()
	if err := c.ApplyEnv(lookup); err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.Server.Addr = ":80"
	want.Archive.PoolSize = 4
	want.Archive.GroupBySubject = true
	want.Search.RateLimit = 0.5
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("ApplyEnv mismatch (-want +got):\n%s", diff)
	}

	env["CRARCHIVE_CACHE_SIZE"] = "lots"
	err := c.ApplyEnv(lookup)
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Key != "CRARCHIVE_CACHE_SIZE" {
		t.Errorf("err=%v, want *Error for CRARCHIVE_CACHE_SIZE", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	name := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(name, []byte("CRARCHIVE_TITLE=Test Archive\n"), 0644); err != nil {
		t.Fatal(err)
	}
	os.Unsetenv("CRARCHIVE_TITLE")
	defer os.Unsetenv("CRARCHIVE_TITLE")

	if err := LoadDotEnv(name); err != nil {
		t.Fatal(err)
	}
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.Archive.Title, "Test Archive"; got != want {
		t.Errorf("Title=%q, want %q", got, want)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("missing .env: %v", err)
	}
}

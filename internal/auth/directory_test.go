package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const credentialsV1 = `
[[users]]
id = 1
username = "john_doe"
companies = [10]

[[tokens]]
key = "first"
user = 1
`

const credentialsV2 = `
[[users]]
id = 1
username = "john_doe"
companies = [10, 11]

[[tokens]]
key = "second"
user = 1
brewhouse = 7
`

func TestLoadDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	if err := os.WriteFile(path, []byte(credentialsV1), 0600); err != nil {
		t.Fatal(err)
	}

	d, err := LoadDirectory(path)
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	p, ok := d.LookupToken("first")
	if !ok || p.Username != "john_doe" || !p.MemberOf(10) {
		t.Fatalf("LookupToken() = %+v, %v", p, ok)
	}
}

func TestLoadDirectory_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	if err := os.WriteFile(path, []byte("[[users]\nid ="), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDirectory(path); err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestDirectory_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	if err := os.WriteFile(path, []byte(credentialsV1), 0600); err != nil {
		t.Fatal(err)
	}
	d, err := LoadDirectory(path)
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte(credentialsV2), 0600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p, ok := d.LookupToken("second"); ok {
			if p.Brewhouse != 7 || !p.MemberOf(11) {
				t.Fatalf("reloaded principal = %+v", p)
			}
			if _, ok := d.LookupToken("first"); ok {
				t.Fatal("old token still valid after reload")
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("directory was not reloaded after the file changed")
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	d := NewDirectory([]UserRecord{{ID: 1, Username: "u", PasswordHash: hash}}, nil, nil)
	if _, ok := d.CheckPassword("u", "s3cret"); !ok {
		t.Fatal("CheckPassword rejected the hashed password")
	}
	if _, ok := d.CheckPassword("u", "wrong"); ok {
		t.Fatal("CheckPassword accepted a wrong password")
	}
}

package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	now := time.Now()
	tok, err := IssueToken("s3cret", "alice", []string{ScopeRead}, time.Hour, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	p, err := ParseToken("s3cret", tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.ActorID != "alice" || p.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", p)
	}
	if !p.Allows(ScopeRead) || p.Allows(ScopeWrite) {
		t.Fatalf("scopes not honoured: %v", p.Scopes)
	}
	var fe ForbiddenError
	if err := p.Require(ScopeWrite); !errors.As(err, &fe) || fe.Permission != ScopeWrite {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestParseTokenRejects(t *testing.T) {
	tok, err := IssueToken("s3cret", "alice", nil, time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken("s3cret", tok); err == nil {
		t.Fatalf("expired token accepted")
	}
	tok, _ = IssueToken("s3cret", "alice", nil, 0, time.Now())
	if _, err := ParseToken("other", tok); err == nil {
		t.Fatalf("token with wrong secret accepted")
	}
	if _, err := ParseToken("", tok); err == nil {
		t.Fatalf("empty secret accepted")
	}
}

func TestIssueTokenValidates(t *testing.T) {
	if _, err := IssueToken("s", "", nil, 0, time.Now()); err == nil {
		t.Fatalf("expected actor error")
	}
	if _, err := IssueToken("s", "bob", []string{"admin"}, 0, time.Now()); err == nil {
		t.Fatalf("expected unknown scope error")
	}
	p := Principal{ActorID: "bob"}
	if !p.Allows(ScopeWrite) {
		t.Fatalf("unscoped principal should be unrestricted")
	}
}

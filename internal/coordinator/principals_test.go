package coordinator

import (
	"context"
	"testing"
)

func TestParseBotCredentials_ParsesMultipleEntries(t *testing.T) {
	principals, err := ParseBotCredentials("bot-a:hash-a, bot-b:hash-b:1.2.0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(principals) != 2 {
		t.Fatalf("expected 2 principals, got %d", len(principals))
	}
	if principals[0].BotKey != "bot-a" || principals[0].SecretHash != "hash-a" || principals[0].MinVersion != "" {
		t.Fatalf("unexpected first principal: %+v", principals[0])
	}
	if principals[1].BotKey != "bot-b" || principals[1].MinVersion != "1.2.0" {
		t.Fatalf("unexpected second principal: %+v", principals[1])
	}
}

func TestParseBotCredentials_EmptyStringYieldsNoPrincipals(t *testing.T) {
	principals, err := ParseBotCredentials("  ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(principals) != 0 {
		t.Fatalf("expected no principals, got %d", len(principals))
	}
}

func TestParseBotCredentials_RejectsMalformedEntry(t *testing.T) {
	_, err := ParseBotCredentials("bot-a-with-no-hash")
	if err == nil {
		t.Fatal("expected a malformed entry to be rejected")
	}
}

func TestStaticPrincipalStore_LookupReturnsNilForUnknownKey(t *testing.T) {
	store := NewStaticPrincipalStore(nil)
	p, err := store.Lookup(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil for an unknown bot key, got %+v", p)
	}
}

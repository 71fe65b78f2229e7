package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/jobmesh/platform/internal/auth"
)

// StaticPrincipalStore is the operator-provisioned credential table
// auth.Service's doc comment describes: a fixed bot_key -> secret hash
// map loaded once at startup from BOT_CREDENTIALS, the simplest table that
// satisfies auth.PrincipalStore without pulling credential storage into
// the job/worker schema. A deployment that wants rotation or per-bot
// disablement without a restart can swap this for a database-backed
// implementation; Service never needs to change.
type StaticPrincipalStore struct {
	principals map[string]auth.Principal
}

// NewStaticPrincipalStore builds a store from a set of already-resolved
// principals, keyed by BotKey.
func NewStaticPrincipalStore(principals []auth.Principal) *StaticPrincipalStore {
	m := make(map[string]auth.Principal, len(principals))
	for _, p := range principals {
		m[p.BotKey] = p
	}
	return &StaticPrincipalStore{principals: m}
}

// ParseBotCredentials parses the BOT_CREDENTIALS env var's
// "bot_key:bcrypt_hash[:min_version],..." form into a slice of principals.
// A malformed entry fails the whole parse with an error naming that entry.
func ParseBotCredentials(raw string) ([]auth.Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []auth.Principal
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("coordinator: malformed BOT_CREDENTIALS entry %q", entry)
		}
		p := auth.Principal{BotKey: strings.TrimSpace(parts[0]), SecretHash: strings.TrimSpace(parts[1])}
		if len(parts) == 3 {
			p.MinVersion = strings.TrimSpace(parts[2])
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *StaticPrincipalStore) Lookup(_ context.Context, botKey string) (*auth.Principal, error) {
	p, ok := s.principals[botKey]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

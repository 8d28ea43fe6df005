package channel

import "strings"

// AllowList is the per-channel sender filter. A sender passes on an
// exact match, or when any part of a composite "id|username" ID
// matches. An empty list admits everyone.
type AllowList struct {
	entries map[string]bool
}

func NewAllowList(entries []string) *AllowList {
	al := &AllowList{entries: make(map[string]bool, len(entries))}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e != "" {
			al.entries[e] = true
		}
	}
	return al
}

func (al *AllowList) Allowed(senderID string) bool {
	if len(al.entries) == 0 {
		return true
	}
	if al.entries[senderID] {
		return true
	}
	if strings.Contains(senderID, "|") {
		for _, part := range strings.Split(senderID, "|") {
			if part != "" && al.entries[part] {
				return true
			}
		}
	}
	return false
}

// CompositeSenderID pairs a platform ID with a username so the allow
// list can match either.
func CompositeSenderID(id, username string) string {
	if username == "" {
		return id
	}
	return id + "|" + username
}

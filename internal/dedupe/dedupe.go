// Package dedupe computes contact identity keys and folds contact lists down
// to unique entries. The same key function is used for in-run dedup and for
// merging against previously persisted contacts.
package dedupe

import (
	"strings"

	"github.com/sells-group/prospector/internal/model"
)

// Result is the outcome of Dedupe.
type Result struct {
	Unique       []model.Contact `json:"unique"`
	RemovedCount int             `json:"removedCount"`
}

// MergeResult is the outcome of Merge.
type MergeResult struct {
	Merged  []model.Contact `json:"merged"`
	Added   []model.Contact `json:"added"`
	Skipped int             `json:"skipped"`
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IdentityKey returns the stable identity of a contact: normalized email,
// else normalized LinkedIn URL, else "name|organization".
func IdentityKey(c model.Contact) string {
	if email := normalize(c.Email); email != "" {
		return email
	}
	if li := normalize(c.LinkedInURL); li != "" {
		return li
	}
	return normalize(c.Name) + "|" + normalize(c.Organization)
}

// Dedupe keeps the first occurrence of each identity key, preserving order.
func Dedupe(contacts []model.Contact) Result {
	seen := make(map[string]struct{}, len(contacts))
	unique := make([]model.Contact, 0, len(contacts))
	for _, c := range contacts {
		key := IdentityKey(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, c)
	}
	return Result{Unique: unique, RemovedCount: len(contacts) - len(unique)}
}

// Merge appends incoming contacts whose identity is not already present in
// existing. Existing entries are never replaced; incoming duplicates of each
// other collapse to the first one seen.
func Merge(existing, incoming []model.Contact) MergeResult {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]model.Contact, 0, len(existing)+len(incoming))
	for _, c := range existing {
		seen[IdentityKey(c)] = struct{}{}
		merged = append(merged, c)
	}

	var added []model.Contact
	skipped := 0
	for _, c := range incoming {
		key := IdentityKey(c)
		if _, ok := seen[key]; ok {
			skipped++
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, c)
		added = append(added, c)
	}
	return MergeResult{Merged: merged, Added: added, Skipped: skipped}
}

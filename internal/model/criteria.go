package model

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"time"
)

// CleanupCriteria selects messages for a cleanup. Every predicate is optional: a nil
// pointer or an empty slice means "unset". Set predicates are ANDed; the Exclude*
// fields (ExcludeLabels included) are evaluated last and always win.
type CleanupCriteria struct {
	Sender          *string  `json:"sender,omitempty" yaml:"sender,omitempty"`
	Domain          *string  `json:"domain,omitempty" yaml:"domain,omitempty"`
	OlderThanDays   *int     `json:"older_than_days,omitempty" yaml:"older_than_days,omitempty"`
	NewerThanDays   *int     `json:"newer_than_days,omitempty" yaml:"newer_than_days,omitempty"`
	Unread          *bool    `json:"unread,omitempty" yaml:"unread,omitempty"`
	HasAttachment   *bool    `json:"has_attachment,omitempty" yaml:"has_attachment,omitempty"`
	AttachmentTypes []string `json:"attachment_types,omitempty" yaml:"attachment_types,omitempty"`
	MinSizeBytes    *int64   `json:"min_size_bytes,omitempty" yaml:"min_size_bytes,omitempty"`
	MaxSizeBytes    *int64   `json:"max_size_bytes,omitempty" yaml:"max_size_bytes,omitempty"`
	IncludeLabels   []string `json:"include_labels,omitempty" yaml:"include_labels,omitempty"`
	ExcludeLabels   []string `json:"exclude_labels,omitempty" yaml:"exclude_labels,omitempty"`
	MinSpamScore    *float64 `json:"min_spam_score,omitempty" yaml:"min_spam_score,omitempty"`
	MaxSpamScore    *float64 `json:"max_spam_score,omitempty" yaml:"max_spam_score,omitempty"`

	ExcludeImportant bool     `json:"exclude_important,omitempty" yaml:"exclude_important,omitempty"`
	ExcludeStarred   bool     `json:"exclude_starred,omitempty" yaml:"exclude_starred,omitempty"`
	ExcludeDomains   []string `json:"exclude_domains,omitempty" yaml:"exclude_domains,omitempty"`

	DryRun bool `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
}

// Ptr returns a pointer to v. Handy for building criteria literals.
func Ptr[T any](v T) *T { return &v }

// HasInclusion reports whether at least one inclusion predicate is set.
func (c CleanupCriteria) HasInclusion() bool {
	return c.Sender != nil || c.Domain != nil || c.OlderThanDays != nil || c.NewerThanDays != nil ||
		c.Unread != nil || c.HasAttachment != nil || len(c.AttachmentTypes) > 0 ||
		c.MinSizeBytes != nil || c.MaxSizeBytes != nil || len(c.IncludeLabels) > 0 ||
		c.MinSpamScore != nil || c.MaxSpamScore != nil
}

// Validate rejects malformed criteria. A criteria value with no inclusion predicate is
// rejected as well: it would select the whole mailbox.
func (c CleanupCriteria) Validate() error {
	var errs ConfigErrors
	if !c.HasInclusion() {
		errs = append(errs, &ConfigError{Reason: "criteria must set at least one inclusion predicate"})
	}
	if c.Sender != nil && !strings.Contains(*c.Sender, "@") {
		errs = append(errs, &ConfigError{Field: "sender", Reason: "not an email address"})
	}
	if c.Domain != nil && strings.TrimSpace(*c.Domain) == "" {
		errs = append(errs, &ConfigError{Field: "domain", Reason: "empty"})
	}
	if c.OlderThanDays != nil && *c.OlderThanDays < 0 {
		errs = append(errs, &ConfigError{Field: "older_than_days", Reason: "negative"})
	}
	if c.NewerThanDays != nil && *c.NewerThanDays < 0 {
		errs = append(errs, &ConfigError{Field: "newer_than_days", Reason: "negative"})
	}
	if c.OlderThanDays != nil && c.NewerThanDays != nil && *c.NewerThanDays <= *c.OlderThanDays {
		errs = append(errs, &ConfigError{Field: "newer_than_days", Reason: "window is empty"})
	}
	if c.MinSizeBytes != nil && *c.MinSizeBytes < 0 {
		errs = append(errs, &ConfigError{Field: "min_size_bytes", Reason: "negative"})
	}
	if c.MaxSizeBytes != nil && *c.MaxSizeBytes < 0 {
		errs = append(errs, &ConfigError{Field: "max_size_bytes", Reason: "negative"})
	}
	if c.MinSizeBytes != nil && c.MaxSizeBytes != nil && *c.MinSizeBytes > *c.MaxSizeBytes {
		errs = append(errs, &ConfigError{Field: "min_size_bytes", Reason: "greater than max_size_bytes"})
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{{"min_spam_score", c.MinSpamScore}, {"max_spam_score", c.MaxSpamScore}} {
		if f.v != nil && (*f.v < 0 || *f.v > 1) {
			errs = append(errs, &ConfigError{Field: f.name, Reason: "must be within [0,1]"})
		}
	}
	if c.MinSpamScore != nil && c.MaxSpamScore != nil && *c.MinSpamScore > *c.MaxSpamScore {
		errs = append(errs, &ConfigError{Field: "min_spam_score", Reason: "greater than max_spam_score"})
	}
	for _, g := range c.ExcludeDomains {
		if _, err := path.Match(strings.ToLower(g), ""); err != nil {
			errs = append(errs, &ConfigError{Field: "exclude_domains", Reason: "bad glob " + g})
		}
	}
	return errs.Err()
}

// Canonical returns a copy with case-insensitive fields lowercased and list fields
// sorted and de-duplicated, so semantically equal criteria compare (and hash) equal.
func (c CleanupCriteria) Canonical() CleanupCriteria {
	out := c
	if c.Sender != nil {
		out.Sender = Ptr(strings.ToLower(strings.TrimSpace(*c.Sender)))
	}
	if c.Domain != nil {
		out.Domain = Ptr(strings.ToLower(strings.TrimSpace(*c.Domain)))
	}
	out.AttachmentTypes = canonicalList(c.AttachmentTypes, true)
	out.IncludeLabels = canonicalList(c.IncludeLabels, false)
	out.ExcludeLabels = canonicalList(c.ExcludeLabels, false)
	out.ExcludeDomains = canonicalList(c.ExcludeDomains, true)
	return out
}

func canonicalList(in []string, lower bool) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Query builds a remote search string that narrows the candidate set. It is a
// superset filter: local predicates (spam score, domain globs, attachment types)
// are still evaluated on the fetched summaries.
func (c CleanupCriteria) Query(now time.Time) string {
	c = c.Canonical()
	var parts []string
	if c.Sender != nil {
		parts = append(parts, "from:"+*c.Sender)
	}
	// no "@": the search must also return subdomain senders, the local matcher
	// accepts them
	if c.Domain != nil {
		parts = append(parts, "from:"+*c.Domain)
	}
	// dates have day granularity; both bounds are widened by a day
	if c.OlderThanDays != nil {
		parts = append(parts, "before:"+now.AddDate(0, 0, -*c.OlderThanDays+1).Format("2006/01/02"))
	}
	if c.NewerThanDays != nil {
		parts = append(parts, "after:"+now.AddDate(0, 0, -*c.NewerThanDays-1).Format("2006/01/02"))
	}
	if c.Unread != nil {
		if *c.Unread {
			parts = append(parts, "is:unread")
		} else {
			parts = append(parts, "-is:unread")
		}
	}
	if c.HasAttachment != nil && *c.HasAttachment {
		parts = append(parts, "has:attachment")
	}
	if c.MinSizeBytes != nil && *c.MinSizeBytes > 0 {
		parts = append(parts, fmt.Sprintf("larger:%d", *c.MinSizeBytes-1))
	}
	if c.MaxSizeBytes != nil {
		parts = append(parts, fmt.Sprintf("smaller:%d", *c.MaxSizeBytes+1))
	}
	for _, l := range c.IncludeLabels {
		parts = append(parts, "label:"+l)
	}
	for _, l := range c.ExcludeLabels {
		parts = append(parts, "-label:"+l)
	}
	if c.ExcludeStarred {
		parts = append(parts, "-is:starred")
	}
	if c.ExcludeImportant {
		parts = append(parts, "-is:important")
	}
	return strings.Join(parts, " ")
}

package scoring

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"mailsweep/internal/model"
)

// Weights are the tunable constants of the scoring pipeline.
type Weights struct {
	PatternWeight     float64 `yaml:"pattern_weight" json:"pattern_weight"`
	UnsubscribeWeight float64 `yaml:"unsubscribe_weight" json:"unsubscribe_weight"`
	AutomatedWeight   float64 `yaml:"automated_weight" json:"automated_weight"`
	NewsletterWeight  float64 `yaml:"newsletter_weight" json:"newsletter_weight"`
	TrustedFactor     float64 `yaml:"trusted_factor" json:"trusted_factor"`
	StrongSpamHits    int     `yaml:"strong_spam_hits" json:"strong_spam_hits"`
	ModelWeight       float64 `yaml:"model_weight" json:"model_weight"`
	VelocityThreshold float64 `yaml:"velocity_threshold" json:"velocity_threshold"`
	VelocityBoost     float64 `yaml:"velocity_boost" json:"velocity_boost"`
	UnreadWeight      float64 `yaml:"unread_weight" json:"unread_weight"`
	NewsletterMinHits int     `yaml:"newsletter_min_hits" json:"newsletter_min_hits"`
}

// MaxModelWeight caps the classifier's share so rule overrides always survive the blend.
const MaxModelWeight = 0.5

func DefaultWeights() Weights {
	return Weights{
		PatternWeight:     0.2,
		UnsubscribeWeight: 0.2,
		AutomatedWeight:   0.2,
		NewsletterWeight:  0.3,
		TrustedFactor:     0.5,
		StrongSpamHits:    3,
		ModelWeight:       0.3,
		VelocityThreshold: 1,
		VelocityBoost:     1.2,
		UnreadWeight:      0.4,
		NewsletterMinHits: 2,
	}
}

// ListsConfig is the on-disk form of patterns.yaml.
type ListsConfig struct {
	SpamPatterns       []string       `yaml:"spam_patterns" json:"spam_patterns"`
	TrustedDomains     []string       `yaml:"trusted_domains" json:"trusted_domains"`
	TrustedSenders     []string       `yaml:"trusted_senders" json:"trusted_senders"`
	ImportantKeywords  []string       `yaml:"important_keywords" json:"important_keywords"`
	AutomatedPrefixes  []string       `yaml:"automated_prefixes" json:"automated_prefixes"`
	NewsletterKeywords []string       `yaml:"newsletter_keywords" json:"newsletter_keywords"`
	NewsletterDomains  []string       `yaml:"newsletter_domains" json:"newsletter_domains"`
	AgeThresholds      map[string]int `yaml:"age_thresholds" json:"age_thresholds"`
	Weights            *Weights       `yaml:"weights" json:"weights"`
}

// Age threshold categories used for recommended criteria.
const (
	CategoryNewsletter  = "newsletter"
	CategoryAutomated   = "automated"
	CategoryPromotional = "promotional"
	CategoryDefault     = "default"
)

// DefaultListsConfig mirrors the built-in lists used when no patterns file exists.
func DefaultListsConfig() ListsConfig {
	w := DefaultWeights()
	return ListsConfig{
		SpamPatterns: []string{
			`unsubscribe`, `click here`, `limited time`, `act now`,
			`congratulations`, `winner`, `free gift`, `no obligation`,
		},
		TrustedDomains: []string{
			"gmail.com", "google.com", "microsoft.com", "apple.com", "amazon.com", "github.com",
		},
		ImportantKeywords:  []string{"invoice", "receipt", "password reset", "security alert", "contract"},
		AutomatedPrefixes:  []string{"noreply", "no-reply", "donotreply", "do-not-reply", "notification", "notifications", "automated", "mailer-daemon"},
		NewsletterKeywords: []string{"newsletter", "digest", "weekly", "monthly", "update"},
		AgeThresholds: map[string]int{
			CategoryNewsletter:  30,
			CategoryAutomated:   14,
			CategoryPromotional: 60,
			CategoryDefault:     90,
		},
		Weights: &w,
	}
}

// LoadFile reads and compiles a patterns file. A missing file yields the
// defaults; an empty list inside the file stays empty and simply contributes nothing.
func LoadFile(path string) (*Lists, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Compile(DefaultListsConfig())
	}
	if err != nil {
		return nil, fmt.Errorf("read patterns %s: %w", path, err)
	}
	// weights absent from the file keep their defaults
	w := DefaultWeights()
	cfg := ListsConfig{Weights: &w}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &model.ConfigError{Field: path, Reason: err.Error()}
	}
	return Compile(cfg)
}

// Lists is the compiled, immutable form of a ListsConfig.
type Lists struct {
	patterns           []*regexp.Regexp
	trustedDomains     map[string]struct{}
	trustedSenders     map[string]struct{}
	importantKeywords  []string
	automatedPrefixes  []string
	newsletterKeywords []string
	newsletterDomains  map[string]struct{}
	ageThresholds      map[string]int
	weights            Weights
	fingerprint        string
}

// Compile validates cfg. Every malformed pattern is reported, not just the first.
func Compile(cfg ListsConfig) (*Lists, error) {
	cfg = canonical(cfg)
	l := &Lists{
		trustedDomains:     toSet(cfg.TrustedDomains),
		trustedSenders:     toSet(cfg.TrustedSenders),
		importantKeywords:  cfg.ImportantKeywords,
		automatedPrefixes:  cfg.AutomatedPrefixes,
		newsletterKeywords: cfg.NewsletterKeywords,
		newsletterDomains:  toSet(cfg.NewsletterDomains),
		ageThresholds:      cfg.AgeThresholds,
		weights:            *cfg.Weights,
	}

	var errs model.ConfigErrors
	for i, p := range cfg.SpamPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			errs = append(errs, &model.ConfigError{
				Field:  fmt.Sprintf("spam_patterns[%d]", i),
				Reason: err.Error(),
			})
			continue
		}
		l.patterns = append(l.patterns, re)
	}
	w := l.weights
	if w.TrustedFactor < 0 || w.TrustedFactor > 1 {
		errs = append(errs, &model.ConfigError{Field: "weights.trusted_factor", Reason: "must be within [0,1]"})
	}
	if w.ModelWeight < 0 {
		errs = append(errs, &model.ConfigError{Field: "weights.model_weight", Reason: "must not be negative"})
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("fingerprint lists: %w", err)
	}
	sum := blake2b.Sum256(b)
	l.fingerprint = hex.EncodeToString(sum[:16])
	return l, nil
}

// Fingerprint identifies the compiled lists and weights; it changes whenever
// scoring output could change.
func (l *Lists) Fingerprint() string { return l.fingerprint }

func (l *Lists) Weights() Weights { return l.weights }

// AgeThreshold returns the age in days recommended for a category, falling back
// to the default category and finally to 90 days.
func (l *Lists) AgeThreshold(category string) int {
	if d, ok := l.ageThresholds[category]; ok && d > 0 {
		return d
	}
	if d, ok := l.ageThresholds[CategoryDefault]; ok && d > 0 {
		return d
	}
	return 90
}

// TrustedSender reports whether sender or its domain (or a parent domain) is trusted.
func (l *Lists) TrustedSender(sender, domain string) bool {
	if _, ok := l.trustedSenders[strings.ToLower(sender)]; ok {
		return true
	}
	return l.TrustedDomain(domain)
}

// TrustedDomain matches domain and each of its parent domains.
func (l *Lists) TrustedDomain(domain string) bool {
	return inDomainSet(l.trustedDomains, domain)
}

// TrustedDomains returns the trusted domains, sorted.
func (l *Lists) TrustedDomains() []string { return sortedKeys(l.trustedDomains) }

// TrustedSenders returns the trusted sender addresses, sorted.
func (l *Lists) TrustedSenders() []string { return sortedKeys(l.trustedSenders) }

func inDomainSet(set map[string]struct{}, domain string) bool {
	d := strings.ToLower(strings.TrimSpace(domain))
	for d != "" {
		if _, ok := set[d]; ok {
			return true
		}
		dot := strings.IndexByte(d, '.')
		if dot < 0 {
			break
		}
		d = d[dot+1:]
	}
	return false
}

func canonical(cfg ListsConfig) ListsConfig {
	norm := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			s = strings.ToLower(strings.TrimSpace(s))
			if s != "" {
				out = append(out, s)
			}
		}
		slices.Sort(out)
		return slices.Compact(out)
	}
	// patterns keep their case; (?i) is applied on compile
	patterns := make([]string, 0, len(cfg.SpamPatterns))
	for _, p := range cfg.SpamPatterns {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	slices.Sort(patterns)
	cfg.SpamPatterns = slices.Compact(patterns)
	cfg.TrustedDomains = norm(cfg.TrustedDomains)
	cfg.TrustedSenders = norm(cfg.TrustedSenders)
	cfg.ImportantKeywords = norm(cfg.ImportantKeywords)
	cfg.AutomatedPrefixes = norm(cfg.AutomatedPrefixes)
	cfg.NewsletterKeywords = norm(cfg.NewsletterKeywords)
	cfg.NewsletterDomains = norm(cfg.NewsletterDomains)
	if cfg.AgeThresholds == nil {
		cfg.AgeThresholds = map[string]int{}
	}
	if cfg.Weights == nil {
		w := DefaultWeights()
		cfg.Weights = &w
	}
	return cfg
}

func toSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, s := range in {
		out[s] = struct{}{}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

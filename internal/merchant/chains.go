package merchant

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
)

// ChainTable maps alias keys to canonical merchant names. Population and
// lookup both go through Key so the two sides cannot drift apart.
type ChainTable struct {
	aliases map[string]string
	mu      sync.RWMutex
}

// NewChainTable creates an empty table.
func NewChainTable() *ChainTable {
	return &ChainTable{aliases: make(map[string]string)}
}

// DefaultChainTable returns a table seeded with well-known chains.
func DefaultChainTable() *ChainTable {
	t := NewChainTable()
	for canonical, aliases := range defaultChains {
		t.Add(canonical, aliases...)
	}
	return t
}

// Add registers a canonical name and its aliases. The canonical name is
// always an alias of itself. Add is for static reference data and overwrites.
func (t *ChainTable) Add(canonical string, aliases ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.aliases[Key(canonical)] = canonical
	for _, alias := range aliases {
		if k := Key(alias); k != "" {
			t.aliases[k] = canonical
		}
	}
}

// Lookup returns the canonical name for an alias.
func (t *ChainTable) Lookup(alias string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	canonical, ok := t.aliases[Key(alias)]
	return canonical, ok
}

// Learn adds an alias without overwriting. Remapping an existing alias to a
// different canonical name returns ErrAliasConflict; use Correct for that.
func (t *ChainTable) Learn(alias, canonical string) error {
	k := Key(alias)
	if k == "" || Key(canonical) == "" {
		return fmt.Errorf("alias and canonical name are required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.aliases[k]; ok {
		if Key(existing) == Key(canonical) {
			return nil
		}
		return fmt.Errorf("%w: %q already maps to %q", common.ErrAliasConflict, alias, existing)
	}
	t.aliases[k] = canonical
	if ck := Key(canonical); t.aliases[ck] == "" {
		t.aliases[ck] = canonical
	}
	return nil
}

// Correct maps alias to canonical, replacing any previous mapping.
func (t *ChainTable) Correct(alias, canonical string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.aliases[Key(alias)] = canonical
	if ck := Key(canonical); t.aliases[ck] == "" {
		t.aliases[ck] = canonical
	}
}

// Keys returns every alias key in sorted order.
func (t *ChainTable) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]string, 0, len(t.aliases))
	for k := range t.aliases {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns alias key → canonical pairs.
func (t *ChainTable) Entries() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]string, len(t.aliases))
	for k, v := range t.aliases {
		out[k] = v
	}
	return out
}

// Len returns the number of alias keys.
func (t *ChainTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.aliases)
}

type chainFile struct {
	Chains []struct {
		Canonical string   `yaml:"canonical"`
		Aliases   []string `yaml:"aliases"`
	} `yaml:"chains"`
}

// LoadChains reads a YAML chain file into t.
//
//	chains:
//	  - canonical: Starbucks
//	    aliases: [sbux, starbucks coffee]
func (t *ChainTable) LoadChains(path string) error {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read chain file: %w", err)
	}
	return t.ParseChains(data)
}

// ParseChains merges YAML chain definitions into t.
func (t *ChainTable) ParseChains(data []byte) error {
	var file chainFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse chain file: %w", err)
	}
	for i, chain := range file.Chains {
		if Key(chain.Canonical) == "" {
			return fmt.Errorf("%w: chain %d has no canonical name", common.ErrInvalidConfig, i)
		}
		t.Add(chain.Canonical, chain.Aliases...)
	}
	return nil
}

var defaultChains = map[string][]string{
	"Starbucks":    {"sbux", "starbucks coffee", "starbucks store"},
	"Amazon":       {"amazon.com", "amzn", "amzn mktp us", "amazon mktplace", "amazon marketplace", "amzn.com/bill"},
	"Amazon Prime": {"amazon prime", "prime video", "amzn prime"},
	"Whole Foods":  {"whole foods market", "wholefds", "wfm"},
	"Walmart":      {"wal-mart", "wm supercenter", "walmart.com", "walmart supercenter"},
	"Target":       {"target.com", "target t-"},
	"Costco":       {"costco whse", "costco wholesale", "costco gas"},
	"Trader Joe's": {"trader joes", "trader joe"},
	"McDonald's":   {"mcdonalds", "mcdonald"},
	"Chipotle":     {"chipotle mexican grill", "chipotle online"},
	"Uber":         {"uber trip", "uber *trip", "uber technologies"},
	"Uber Eats":    {"ubereats", "uber *eats", "uber eats"},
	"Lyft":         {"lyft ride", "lyft *ride"},
	"DoorDash":     {"doordash", "dd doordash", "door dash"},
	"Grubhub":      {"grubhub", "grubhub holdings"},
	"Instacart":    {"instacart", "maplebear"},
	"Netflix":      {"netflix.com", "netflix inc"},
	"Spotify":      {"spotify usa", "spotify.com"},
	"Apple":        {"apple.com/bill", "apple store", "itunes.com"},
	"Google":       {"google *services", "google cloud", "google storage"},
	"Home Depot":   {"the home depot", "homedepot.com"},
	"Lowe's":       {"lowes", "lowe's home centers"},
	"CVS Pharmacy": {"cvs", "cvs/pharmacy", "cvs pharmacy"},
	"Walgreens":    {"walgreens", "walgreen co"},
	"Shell":        {"shell oil", "shell service station"},
	"Chevron":      {"chevron station"},
	"Best Buy":     {"bestbuy", "bestbuy.com"},
	"Office Depot": {"office depot", "officedepot.com", "officemax"},
	"Staples":      {"staples inc", "staples.com"},
	"Delta":        {"delta air lines", "delta air"},
	"United":       {"united airlines", "united.com"},
	"Airbnb":       {"airbnb inc", "airbnb.com"},
	"Marriott":     {"marriott hotels", "marriott intl"},
	"Hilton":       {"hilton hotels", "hilton garden inn"},
	"Adobe":        {"adobe systems", "adobe inc"},
	"GitHub":       {"github inc", "github.com"},
	"Dropbox":      {"dropbox inc"},
	"Zoom":         {"zoom.us", "zoom video communications"},
	"Slack":        {"slack technologies"},
	"Panera Bread": {"panera", "panera bread"},
	"Dunkin'":      {"dunkin", "dunkin donuts", "dunkin #"},
	"Subway":       {"subway restaurant"},
	"7-Eleven":     {"7 eleven", "7-11", "seven eleven"},
	"Safeway":      {"safeway store"},
	"Kroger":       {"kroger co", "kroger fuel"},
	"IKEA":         {"ikea us"},
	"eBay":         {"ebay inc", "ebay.com"},
	"PayPal":       {"paypal inc"},
	"FedEx":        {"fedex office", "fedex kinkos"},
	"UPS":          {"ups store", "the ups store"},
}

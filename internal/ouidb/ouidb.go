// Package ouidb resolves MAC addresses to vendor names through the
// net_oui registry table, cached in memory as an ordered prefix index so
// lookups honor the longest matching assignment (MA-L, MA-M, MA-S).
package ouidb

import (
	"context"
	"strings"
	"sync"

	"github.com/google/btree"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/talkincode/lanprobe/internal/domain"
)

type entry struct {
	prefix string // lowercase hex, no separators
	vendor string
}

func entryLess(a, b entry) bool {
	return a.prefix < b.prefix
}

// Store is the in-memory OUI index over the net_oui table.
type Store struct {
	db   *gorm.DB
	mu   sync.RWMutex
	tree *btree.BTreeG[entry]
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:   db,
		tree: btree.NewG[entry](8, entryLess),
	}
}

// Reload replaces the index with the current table contents.
func (s *Store) Reload(ctx context.Context) error {
	var rows []domain.NetOui
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return errors.Wrap(err, "load oui table")
	}

	tree := btree.NewG[entry](8, entryLess)
	for _, row := range rows {
		p := NormalizeMac(row.Prefix)
		if p == "" {
			continue
		}
		tree.ReplaceOrInsert(entry{prefix: p, vendor: row.Vendor})
	}

	s.mu.Lock()
	s.tree = tree
	s.mu.Unlock()
	zap.L().Info("oui index reloaded", zap.Int("prefixes", tree.Len()))
	return nil
}

// Lookup returns the vendor of the longest registered prefix of mac.
func (s *Store) Lookup(mac string) (string, bool) {
	key := NormalizeMac(mac)
	if len(key) < 6 {
		return "", false
	}
	floor := key[:6]

	s.mu.RLock()
	defer s.mu.RUnlock()

	var vendor string
	var found bool
	// Registered prefixes of key all sort between key[:6] and key itself,
	// so a bounded descend visits the longest one first.
	s.tree.DescendLessOrEqual(entry{prefix: key}, func(e entry) bool {
		if e.prefix < floor {
			return false
		}
		if strings.HasPrefix(key, e.prefix) {
			vendor = e.vendor
			found = true
			return false
		}
		return true
	})
	return vendor, found
}

// Count returns the number of indexed prefixes.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// NormalizeMac lowers a MAC (or MAC prefix) and strips separators.
func NormalizeMac(mac string) string {
	mac = strings.ToLower(strings.TrimSpace(mac))
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', '.':
			return -1
		}
		return r
	}, mac)
}

// insertForTest adds one entry directly to the index.
func (s *Store) insertForTest(prefix, vendor string) {
	s.mu.Lock()
	s.tree.ReplaceOrInsert(entry{prefix: NormalizeMac(prefix), vendor: vendor})
	s.mu.Unlock()
}

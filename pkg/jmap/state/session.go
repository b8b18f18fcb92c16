package state

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"gorm.io/gorm"

	"github.com/marmos91/jmapd/pkg/jmap/store"
)

// ErrBlocked is returned when a concurrent request has already advanced
// the state row this transaction wants to bump. The losing request must
// be retried by the client.
var ErrBlocked = errors.New("blocked by another client")

// Row is one (account, type) entry of the states table.
type Row struct {
	AccountID     string `gorm:"column:account_id;primaryKey;size:36"`
	Type          string `gorm:"column:type;primaryKey;size:128"`
	LowestModSeq  int64  `gorm:"column:lowest_mod_seq;not null"`
	HighestModSeq int64  `gorm:"column:highest_mod_seq;not null"`
}

// TableName returns the table name for Row.
func (Row) TableName() string {
	return "states"
}

// Session tracks the state rows of one account for the duration of one
// request. It is created lazily on first state access inside the
// top-level transaction, stages pending bumps in memory, and writes them
// back when the outer transaction commits.
//
// A Session is request-scoped and not safe for concurrent use.
type Session struct {
	accountID string
	rows      map[string]*Row // loaded snapshot, keyed by type
	loaded    bool
	pending   map[string]int64 // type -> staged next modseq
}

// NewSession creates a session for one account. Rows are loaded on first
// access.
func NewSession(accountID string) *Session {
	return &Session{
		accountID: accountID,
		rows:      make(map[string]*Row),
		pending:   make(map[string]int64),
	}
}

// AccountID returns the account this session tracks.
func (s *Session) AccountID() string {
	return s.accountID
}

func (s *Session) load(tx *gorm.DB) error {
	if s.loaded {
		return nil
	}
	var rows []Row
	if err := tx.Where("account_id = ?", s.accountID).Find(&rows).Error; err != nil {
		return fmt.Errorf("load state rows for %s: %w", s.accountID, err)
	}
	for i := range rows {
		r := rows[i]
		s.rows[r.Type] = &r
	}
	s.loaded = true
	return nil
}

// StateFor returns the current state string for a type: the pending bump
// if one is staged, else the recorded highest modseq, else "0".
func (s *Session) StateFor(tx *gorm.DB, typ string) (string, error) {
	if p, ok := s.pending[typ]; ok {
		return strconv.FormatInt(p, 10), nil
	}
	if err := s.load(tx); err != nil {
		return "", err
	}
	if row, ok := s.rows[typ]; ok {
		return strconv.FormatInt(row.HighestModSeq, 10), nil
	}
	return "0", nil
}

// Window returns the recorded (lowest, highest) modseq window for a type.
// A type with no state row has the window (0, 0).
func (s *Session) Window(tx *gorm.DB, typ string) (int64, int64, error) {
	if err := s.load(tx); err != nil {
		return 0, 0, err
	}
	if row, ok := s.rows[typ]; ok {
		return row.LowestModSeq, row.HighestModSeq, nil
	}
	return 0, 0, nil
}

// NextStateFor returns the modseq that new and updated rows of this type
// must be stamped with: the pending bump if staged, else highest+1.
func (s *Session) NextStateFor(tx *gorm.DB, typ string) (int64, error) {
	if p, ok := s.pending[typ]; ok {
		return p, nil
	}
	if err := s.load(tx); err != nil {
		return 0, err
	}
	if row, ok := s.rows[typ]; ok {
		return row.HighestModSeq + 1, nil
	}
	return 1, nil
}

// EnsureBumped stages a state bump for the type. The first call of the
// transaction records the next state as pending; later calls are no-ops,
// so one transaction advances each type's state by at most one.
func (s *Session) EnsureBumped(tx *gorm.DB, typ string) error {
	if _, ok := s.pending[typ]; ok {
		return nil
	}
	next, err := s.NextStateFor(tx, typ)
	if err != nil {
		return err
	}
	s.pending[typ] = next
	return nil
}

// HasPending reports whether any bump is staged.
func (s *Session) HasPending() bool {
	return len(s.pending) > 0
}

// Commit writes the staged bumps to the states table. It must run inside
// the outer transaction, just before it commits. Contention with another
// request on the same (account, type) surfaces as ErrBlocked: on insert
// via the primary-key violation, on update via the optimistic guard on
// the previous highest modseq.
func (s *Session) Commit(tx *gorm.DB) error {
	// Deterministic order keeps multi-type commits deadlock-free.
	types := make([]string, 0, len(s.pending))
	for typ := range s.pending {
		types = append(types, typ)
	}
	sort.Strings(types)

	for _, typ := range types {
		next := s.pending[typ]
		if row, ok := s.rows[typ]; ok {
			res := tx.Model(&Row{}).
				Where("account_id = ? AND type = ? AND highest_mod_seq = ?",
					s.accountID, typ, row.HighestModSeq).
				Update("highest_mod_seq", next)
			if res.Error != nil {
				return fmt.Errorf("bump state %s/%s: %w", s.accountID, typ, res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrBlocked
			}
		} else {
			row := Row{
				AccountID:     s.accountID,
				Type:          typ,
				LowestModSeq:  0,
				HighestModSeq: next,
			}
			if err := tx.Create(&row).Error; err != nil {
				if store.IsUniqueViolation(err) {
					return ErrBlocked
				}
				return fmt.Errorf("insert state %s/%s: %w", s.accountID, typ, err)
			}
		}
	}
	return nil
}

// Refresh discards the cached state-row snapshot and any staged bumps.
func (s *Session) Refresh() {
	s.rows = make(map[string]*Row)
	s.pending = make(map[string]int64)
	s.loaded = false
}

// Localize swaps in a copy of the pending map for a nested transaction
// scope and returns the outer map. The copy keeps outer bumps visible to
// nested work.
func (s *Session) Localize() map[string]int64 {
	outer := s.pending
	local := make(map[string]int64, len(outer))
	for k, v := range outer {
		local[k] = v
	}
	s.pending = local
	return outer
}

// Restore discards the localized pending map after a failed nested scope
// and reinstates the outer one.
func (s *Session) Restore(outer map[string]int64) {
	s.pending = outer
}

// Fold merges the localized pending map of a successful nested scope into
// the outer one and reinstates it.
func (s *Session) Fold(outer map[string]int64) {
	for k, v := range s.pending {
		outer[k] = v
	}
	s.pending = outer
}

// SeedAccount inserts zero states for every type of a new account's
// family. Called when an account-base record is created.
func SeedAccount(tx *gorm.DB, accountID string, types []string) error {
	for _, typ := range types {
		row := Row{AccountID: accountID, Type: typ, LowestModSeq: 0, HighestModSeq: 0}
		if err := tx.Create(&row).Error; err != nil {
			if store.IsUniqueViolation(err) {
				return ErrBlocked
			}
			return fmt.Errorf("seed state %s/%s: %w", accountID, typ, err)
		}
	}
	return nil
}

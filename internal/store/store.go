// Package store implements the three persistent documents of §4.6:
// credentials, targets, and operators, plus the process-wide global-policy
// document. All reads tolerate a single stray trailing comma before a
// closing `}`/`]` (B4); all writes go through the atomic-write primitive so a
// crash mid-write never corrupts a document.
//
// Grounded on original_source/config_manager.py's save_credentials/
// load_credentials/save_group_urls/load_group_urls (JSON-map-on-disk shape,
// default-on-missing-file behaviour), generalised from config_manager.py's
// single top-level document per concern to this spec's account_id-keyed
// maps. Atomic persistence reuses the teacher's
// internal/infra/storage.AtomicWriteFile verbatim.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"
	"time"

	"telegram-forwarder/internal/domain/model"
	"telegram-forwarder/internal/infra/storage"
)

// CredentialEntry is one account's record in the credentials document (§4.6).
type CredentialEntry struct {
	APIID               int     `json:"api_id"`
	APIHash             string  `json:"api_hash"`
	Phone               string  `json:"phone"`
	SessionFile         string  `json:"session_file,omitempty"`
	Start               bool    `json:"start"`
	AutoStartForwarding bool    `json:"auto_start_forwarding"`
	Delay               string  `json:"delay"`
	ForwardMode         string  `json:"forward_mode"`
	ModeSet             bool    `json:"mode_set"`
	ExpiryDate          *string `json:"expiry_date,omitempty"`
	LastUpdated         string  `json:"last_updated"`
}

// CredentialsDoc maps account_id to its credential record.
type CredentialsDoc map[string]CredentialEntry

// TargetEntry is one forwarding target. It unmarshals either from an object
// {url,active,added_at} (or the original's "added_date" spelling, accepted
// for backward compatibility, §6) or from a bare string (legacy shorthand for
// {url=s, active=true}, per §4.6).
type TargetEntry struct {
	URL     string
	Active  bool
	AddedAt string
}

func (t *TargetEntry) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		*t = TargetEntry{URL: bare, Active: true}
		return nil
	}
	var obj struct {
		URL       string `json:"url"`
		Active    bool   `json:"active"`
		AddedAt   string `json:"added_at"`
		AddedDate string `json:"added_date"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	addedAt := obj.AddedAt
	if addedAt == "" {
		addedAt = obj.AddedDate
	}
	*t = TargetEntry{URL: obj.URL, Active: obj.Active, AddedAt: addedAt}
	return nil
}

func (t TargetEntry) MarshalJSON() ([]byte, error) {
	obj := struct {
		URL     string `json:"url"`
		Active  bool   `json:"active"`
		AddedAt string `json:"added_at"`
	}{t.URL, t.Active, t.AddedAt}
	return json.Marshal(obj)
}

// TargetsDoc maps account_id to its ordered target list.
type TargetsDoc map[string][]TargetEntry

// OperatorsDoc is the single operators document (§4.6).
type OperatorsDoc struct {
	PrimaryAdmin    int64   `json:"primary_admin"`
	AdminLimit      int     `json:"admin_limit"`
	SecondaryAdmins []int64 `json:"secondary_admins"`
}

// GlobalPolicyDoc is the single global-policy document (§4.6).
type GlobalPolicyDoc struct {
	AutoStartForwarding bool   `json:"auto_start_forwarding"`
	SkipConfirmation    bool   `json:"skip_confirmation"`
	ConcurrentUsers     bool   `json:"concurrent_users"`
	DefaultDelay        string `json:"default_delay"`
	DefaultForwardMode  string `json:"default_forward_mode"`
}

// trailingCommaRe matches a stray comma directly before a closing
// brace/bracket; sanitizeTrailingCommas strips every such comma, the sole
// forgiveness rule of §4.6 (B4).
var trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)

func sanitizeTrailingCommas(data []byte) []byte {
	return trailingCommaRe.ReplaceAll(data, []byte("$1"))
}

// readJSON loads path into out. A missing file leaves out untouched (callers
// pre-zero it). A parse failure is retried once after trailing-comma
// forgiveness; a document that still fails to parse is treated as absent
// ("skip the offending record", §4.6) rather than aborting the whole load.
func readJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err == nil {
		return nil
	}
	cleaned := sanitizeTrailingCommas(data)
	if bytes.Equal(cleaned, data) {
		return nil
	}
	_ = json.Unmarshal(cleaned, out)
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return storage.AtomicWriteFile(path, data)
}

// Store is the process-wide handle to the three persistent documents plus
// the global-policy document, guarded by a single RWMutex (writes are
// infrequent admin-bot actions; reads happen once per worker cycle).
type Store struct {
	credentialsPath  string
	targetsPath      string
	operatorsPath    string
	globalPolicyPath string

	mu           sync.RWMutex
	credentials  CredentialsDoc
	targets      TargetsDoc
	operators    OperatorsDoc
	globalPolicy GlobalPolicyDoc
}

// Open loads all four documents from disk, defaulting any that are absent.
func Open(credentialsPath, targetsPath, operatorsPath, globalPolicyPath string, primaryOperatorID int64) (*Store, error) {
	s := &Store{
		credentialsPath:  credentialsPath,
		targetsPath:      targetsPath,
		operatorsPath:    operatorsPath,
		globalPolicyPath: globalPolicyPath,
		credentials:      CredentialsDoc{},
		targets:          TargetsDoc{},
		globalPolicy: GlobalPolicyDoc{
			AutoStartForwarding: true,
			DefaultDelay:        "1m",
			DefaultForwardMode:  "1",
		},
	}

	if err := readJSON(credentialsPath, &s.credentials); err != nil {
		return nil, err
	}
	if err := readJSON(targetsPath, &s.targets); err != nil {
		return nil, err
	}
	if err := readJSON(operatorsPath, &s.operators); err != nil {
		return nil, err
	}
	if err := readJSON(globalPolicyPath, &s.globalPolicy); err != nil {
		return nil, err
	}
	if s.operators.PrimaryAdmin == 0 {
		s.operators.PrimaryAdmin = primaryOperatorID
		if err := writeJSON(operatorsPath, s.operators); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Reload re-reads all documents from disk, discarding in-memory state. Used
// by the supervisor's file-watch debounce handler (§4.5).
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	credentials := CredentialsDoc{}
	targets := TargetsDoc{}
	var operators OperatorsDoc
	var globalPolicy GlobalPolicyDoc
	if err := readJSON(s.credentialsPath, &credentials); err != nil {
		return err
	}
	if err := readJSON(s.targetsPath, &targets); err != nil {
		return err
	}
	if err := readJSON(s.operatorsPath, &operators); err != nil {
		return err
	}
	if err := readJSON(s.globalPolicyPath, &globalPolicy); err != nil {
		return err
	}
	s.credentials = credentials
	s.targets = targets
	s.operators = operators
	s.globalPolicy = globalPolicy
	return nil
}

// Accounts returns every account in the credentials document as model
// values, with their target lists merged in (§3).
func (s *Store) Accounts() map[string]model.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Account, len(s.credentials))
	for id, c := range s.credentials {
		out[id] = toModelAccount(id, c, s.targets[id])
	}
	return out
}

// Account returns a single account by id.
func (s *Store) Account(accountID string) (model.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[accountID]
	if !ok {
		return model.Account{}, false
	}
	return toModelAccount(accountID, c, s.targets[accountID]), true
}

func toModelAccount(accountID string, c CredentialEntry, targets []TargetEntry) model.Account {
	expiry, _ := model.ParseExpiry(derefString(c.ExpiryDate))
	lastUpdated, _ := time.Parse(time.RFC3339, c.LastUpdated)
	acc := model.Account{
		AccountID:           accountID,
		APIID:               c.APIID,
		APIHash:             c.APIHash,
		Phone:                c.Phone,
		SessionFile:         c.SessionFile,
		Start:               c.Start,
		AutoStartForwarding: c.AutoStartForwarding,
		Delay:               model.ParseDelay(c.Delay),
		ForwardMode:         model.ParseForwardMode(c.ForwardMode),
		ModeSet:             c.ModeSet,
		ExpiryDate:          expiry,
		LastUpdated:         lastUpdated,
	}
	for _, t := range targets {
		addedAt, _ := time.Parse(time.RFC3339, t.AddedAt)
		acc.Targets = append(acc.Targets, model.Target{URL: t.URL, Active: t.Active, AddedAt: addedAt})
	}
	return acc
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// GlobalPolicy returns the current process-wide defaults.
func (s *Store) GlobalPolicy() model.GlobalPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.GlobalPolicy{
		AutoStartForwarding: s.globalPolicy.AutoStartForwarding,
		SkipConfirmation:    s.globalPolicy.SkipConfirmation,
		ConcurrentUsers:     s.globalPolicy.ConcurrentUsers,
		DefaultDelay:        model.ParseDelay(s.globalPolicy.DefaultDelay),
		DefaultForwardMode:  model.ParseForwardMode(s.globalPolicy.DefaultForwardMode),
	}
}

// --- Operator operations (§4.7, primary-only) ---

// IsOperator reports whether id is the primary or a secondary operator.
func (s *Store) IsOperator(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id == s.operators.PrimaryAdmin {
		return true
	}
	for _, a := range s.operators.SecondaryAdmins {
		if a == id {
			return true
		}
	}
	return false
}

// IsPrimary reports whether id is the primary operator.
func (s *Store) IsPrimary(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return id == s.operators.PrimaryAdmin
}

// AddSecondaryOperator adds id as a secondary operator, enforcing admin_limit.
func (s *Store) AddSecondaryOperator(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.operators.SecondaryAdmins {
		if a == id {
			return nil
		}
	}
	if len(s.operators.SecondaryAdmins) >= s.operators.AdminLimit {
		return fmt.Errorf("store: admin_limit %d reached", s.operators.AdminLimit)
	}
	s.operators.SecondaryAdmins = append(s.operators.SecondaryAdmins, id)
	return writeJSON(s.operatorsPath, s.operators)
}

// RemoveSecondaryOperator removes id from the secondary operator list.
func (s *Store) RemoveSecondaryOperator(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.operators.SecondaryAdmins[:0]
	for _, a := range s.operators.SecondaryAdmins {
		if a != id {
			out = append(out, a)
		}
	}
	s.operators.SecondaryAdmins = out
	return writeJSON(s.operatorsPath, s.operators)
}

// SetAdminLimit updates admin_limit; rejected if below the current secondary
// operator count or negative (§4.7).
func (s *Store) SetAdminLimit(limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit < 0 || limit < len(s.operators.SecondaryAdmins) {
		return fmt.Errorf("store: admin_limit must be >= current secondary operator count (%d)", len(s.operators.SecondaryAdmins))
	}
	s.operators.AdminLimit = limit
	return writeJSON(s.operatorsPath, s.operators)
}

// --- Account operations (§4.7) ---

// EnrollAccount records a freshly-authorised account with the defaults of
// the enrolment flow's step (iii): delay=1m, forward_mode=1, mode_set=true,
// start=false, auto_start_forwarding=true, expiry_date=now+30d.
func (s *Store) EnrollAccount(accountID string, apiID int, apiHash, phone, sessionFile string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry := now.AddDate(0, 0, 30)
	expiryStr := expiry.Format(model.ExpiryLayout)
	s.credentials[accountID] = CredentialEntry{
		APIID:               apiID,
		APIHash:             apiHash,
		Phone:               phone,
		SessionFile:         sessionFile,
		Start:               false,
		AutoStartForwarding: true,
		Delay:               "1m",
		ForwardMode:         "1",
		ModeSet:             true,
		ExpiryDate:          &expiryStr,
		LastUpdated:         now.Format(time.RFC3339),
	}
	if _, ok := s.targets[accountID]; !ok {
		s.targets[accountID] = []TargetEntry{}
	}
	if err := writeJSON(s.credentialsPath, s.credentials); err != nil {
		return err
	}
	return writeJSON(s.targetsPath, s.targets)
}

// SetStart toggles an account's start flag.
func (s *Store) SetStart(accountID string, start bool, now time.Time) error {
	return s.mutateCredential(accountID, now, func(c *CredentialEntry) { c.Start = start })
}

// SetDelay sets an account's raw delay string (validated/normalised by
// model.ParseDelay/FormatDelay at the call site before reaching here).
func (s *Store) SetDelay(accountID, delay string, now time.Time) error {
	return s.mutateCredential(accountID, now, func(c *CredentialEntry) { c.Delay = delay })
}

// SetForwardMode sets an account's forward_mode code ("1"|"2"|"3").
func (s *Store) SetForwardMode(accountID string, mode model.ForwardMode, now time.Time) error {
	return s.mutateCredential(accountID, now, func(c *CredentialEntry) {
		c.ForwardMode = mode.String()
		c.ModeSet = true
	})
}

// SetExpiry sets (or clears, for nil) an account's expiry_date.
func (s *Store) SetExpiry(accountID string, expiry *time.Time, now time.Time) error {
	return s.mutateCredential(accountID, now, func(c *CredentialEntry) {
		if expiry == nil {
			c.ExpiryDate = nil
			return
		}
		formatted := expiry.Format(model.ExpiryLayout)
		c.ExpiryDate = &formatted
	})
}

// DeleteAccount removes an account's credentials and targets entirely.
// Session file removal is the caller's responsibility (it lives outside the
// store's document set).
func (s *Store) DeleteAccount(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, accountID)
	delete(s.targets, accountID)
	if err := writeJSON(s.credentialsPath, s.credentials); err != nil {
		return err
	}
	return writeJSON(s.targetsPath, s.targets)
}

func (s *Store) mutateCredential(accountID string, now time.Time, mutate func(*CredentialEntry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[accountID]
	if !ok {
		return fmt.Errorf("store: unknown account %q", accountID)
	}
	mutate(&c)
	c.LastUpdated = now.Format(time.RFC3339)
	s.credentials[accountID] = c
	return writeJSON(s.credentialsPath, s.credentials)
}

// --- Target operations (§4.7) ---

// ListTargets returns an account's targets in order.
func (s *Store) ListTargets(accountID string) []TargetEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TargetEntry, len(s.targets[accountID]))
	copy(out, s.targets[accountID])
	return out
}

// AddTargets appends URLs to an account's target list.
func (s *Store) AddTargets(accountID string, urls []string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.targets[accountID]
	for _, u := range urls {
		list = append(list, TargetEntry{URL: u, Active: true, AddedAt: now.Format(time.RFC3339)})
	}
	s.targets[accountID] = list
	return writeJSON(s.targetsPath, s.targets)
}

// DeleteTargets removes targets at the given 1-based indices, applied in
// reverse order so earlier indices stay valid as later ones are removed
// (§4.7).
func (s *Store) DeleteTargets(accountID string, indices []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.targets[accountID]
	sorted := append([]int(nil), indices...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	for _, idx := range sorted {
		i := idx - 1
		if i < 0 || i >= len(list) {
			continue
		}
		list = append(list[:i], list[i+1:]...)
	}
	s.targets[accountID] = list
	return writeJSON(s.targetsPath, s.targets)
}

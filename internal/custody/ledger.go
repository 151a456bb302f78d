// Package custody is an in-memory stand-in for the external asset-custody
// service: token balances per asset and account, a vault account per study,
// and credential issuance. Every method either fully applies or returns an
// error without touching state, matching the all-or-nothing contract the
// engine relies on.
package custody

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/recrusearch/recrusearch/internal/services"
)

type credential struct {
	ID      string
	Owner   string
	Kind    string
	StudyID string
	Burned  bool
}

type Ledger struct {
	mu          sync.Mutex
	balances    map[string]map[string]uint64 // asset -> account -> amount
	credentials map[string]*credential
}

func NewLedger() *Ledger {
	return &Ledger{
		balances:    map[string]map[string]uint64{},
		credentials: map[string]*credential{},
	}
}

// Credit adds funds to an account. Used to seed researcher balances.
func (l *Ledger) Credit(assetID, account string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.account(assetID)[account] += amount
}

func (l *Ledger) Balance(assetID, account string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(assetID)[account]
}

func (l *Ledger) TransferToVault(assetID, from, studyID string, amount uint64) error {
	return l.transfer(assetID, from, vaultAccount(studyID), amount)
}

func (l *Ledger) TransferFromVault(assetID, studyID, to string, amount uint64) error {
	return l.transfer(assetID, vaultAccount(studyID), to, amount)
}

func (l *Ledger) MintCredential(owner, kind, studyID string) (string, error) {
	if owner == "" || kind == "" {
		return "", services.NewValidationError("credential owner and kind required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := "cred_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	l.credentials[id] = &credential{ID: id, Owner: owner, Kind: kind, StudyID: studyID}
	return id, nil
}

func (l *Ledger) BurnCredential(credentialID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.credentials[credentialID]
	if c == nil {
		return services.NewNotFoundError("credential not found")
	}
	if c.Burned {
		return services.NewConflictError("credential already burned")
	}
	c.Burned = true
	return nil
}

func (l *Ledger) transfer(assetID, from, to string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	accounts := l.account(assetID)
	if accounts[from] < amount {
		return services.NewFundsError("insufficient balance")
	}
	accounts[from] -= amount
	accounts[to] += amount
	return nil
}

func (l *Ledger) account(assetID string) map[string]uint64 {
	if l.balances[assetID] == nil {
		l.balances[assetID] = map[string]uint64{}
	}
	return l.balances[assetID]
}

func vaultAccount(studyID string) string { return "vault:" + studyID }

var _ services.Custody = (*Ledger)(nil)

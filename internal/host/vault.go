package host

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"nativemsg/internal/domain"
)

// CodeError is a vault failure reported to the client verbatim.
type CodeError string

func (e CodeError) Error() string { return string(e) }

const (
	ErrLocked       CodeError = "locked"
	ErrUnknownUser  CodeError = "unknown-user"
	ErrNoCredential CodeError = "no-credential"
)

// Vault is the business logic behind decrypted commands.
type Vault interface {
	Status(ctx context.Context) ([]domain.AccountStatus, error)
	Credentials(ctx context.Context, uri string) ([]domain.Credential, error)
	CreateCredential(ctx context.Context, cmd domain.CredentialCreateCommand) (domain.OperationResult, error)
	UpdateCredential(ctx context.Context, cmd domain.CredentialUpdateCommand) (domain.OperationResult, error)
	GeneratePassword(ctx context.Context, userID string) (string, error)
}

// Account is a MemoryVault user.
type Account struct {
	ID     string
	Email  string
	Locked bool
	Active bool
}

type storedCredential struct {
	domain.Credential
	URI string
}

// MemoryVault keeps accounts and logins in memory.
type MemoryVault struct {
	mu          sync.RWMutex
	accounts    []Account
	credentials []storedCredential
}

func NewMemoryVault(accounts ...Account) *MemoryVault {
	return &MemoryVault{accounts: accounts}
}

func (v *MemoryVault) Status(ctx context.Context) ([]domain.AccountStatus, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]domain.AccountStatus, 0, len(v.accounts))
	for _, a := range v.accounts {
		st := "unlocked"
		if a.Locked {
			st = "locked"
		}
		out = append(out, domain.AccountStatus{ID: a.ID, Email: a.Email, Status: st, Active: a.Active})
	}
	return out, nil
}

func (v *MemoryVault) Credentials(ctx context.Context, uri string) ([]domain.Credential, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.activeLocked() {
		return nil, ErrLocked
	}
	out := []domain.Credential{}
	for _, c := range v.credentials {
		if sameSite(c.URI, uri) {
			out = append(out, c.Credential)
		}
	}
	return out, nil
}

func (v *MemoryVault) CreateCredential(ctx context.Context, cmd domain.CredentialCreateCommand) (domain.OperationResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	a, ok := v.account(cmd.UserID)
	if !ok {
		return domain.OperationResult{}, ErrUnknownUser
	}
	if a.Locked {
		return domain.OperationResult{}, ErrLocked
	}
	v.credentials = append(v.credentials, storedCredential{
		Credential: domain.Credential{
			CredentialID: uuid.NewString(),
			Name:         cmd.Name,
			UserName:     cmd.UserName,
			Password:     cmd.Password,
			UserID:       cmd.UserID,
		},
		URI: cmd.URI,
	})
	return domain.OperationResult{Status: "success"}, nil
}

func (v *MemoryVault) UpdateCredential(ctx context.Context, cmd domain.CredentialUpdateCommand) (domain.OperationResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	a, ok := v.account(cmd.UserID)
	if !ok {
		return domain.OperationResult{}, ErrUnknownUser
	}
	if a.Locked {
		return domain.OperationResult{}, ErrLocked
	}
	for i := range v.credentials {
		c := &v.credentials[i]
		if c.CredentialID != cmd.CredentialID || c.UserID != cmd.UserID {
			continue
		}
		c.Name, c.UserName, c.Password, c.URI = cmd.Name, cmd.UserName, cmd.Password, cmd.URI
		return domain.OperationResult{Status: "success"}, nil
	}
	return domain.OperationResult{Status: "failure"}, nil
}

const passwordAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789!@#$%^&*"

func (v *MemoryVault) GeneratePassword(ctx context.Context, userID string) (string, error) {
	v.mu.RLock()
	a, ok := v.account(userID)
	v.mu.RUnlock()
	if !ok {
		return "", ErrUnknownUser
	}
	if a.Locked {
		return "", ErrLocked
	}
	var b strings.Builder
	limit := big.NewInt(int64(len(passwordAlphabet)))
	for i := 0; i < 20; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(passwordAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// SetLocked changes the lock state of an account.
func (v *MemoryVault) SetLocked(id string, locked bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.accounts {
		if v.accounts[i].ID == id {
			v.accounts[i].Locked = locked
		}
	}
}

func (v *MemoryVault) account(id string) (Account, bool) {
	for _, a := range v.accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

func (v *MemoryVault) activeLocked() bool {
	for _, a := range v.accounts {
		if a.Active {
			return a.Locked
		}
	}
	return true
}

func sameSite(stored, requested string) bool {
	if stored == requested {
		return true
	}
	a, errA := url.Parse(stored)
	b, errB := url.Parse(requested)
	if errA != nil || errB != nil || a.Hostname() == "" {
		return false
	}
	return strings.EqualFold(a.Hostname(), b.Hostname())
}

var _ Vault = (*MemoryVault)(nil)

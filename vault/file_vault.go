package vault

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jrife/kvault/encryption"
	"github.com/jrife/kvault/utils/filelock"
	"golang.org/x/crypto/scrypt"
)

// The current supported version of the vault file format
const fileFormatVersion = 1

const saltSize = 16

// ScryptParams are the key derivation cost parameters
type ScryptParams struct {
	N int
	R int
	P int
}

// DefaultScryptParams are used for new vault files
var DefaultScryptParams = ScryptParams{N: 1 << 15, R: 8, P: 1}

// vaultFile is the on-disk JSON structure. Each record's key is
// sealed with a key derived from the passphrase and bound to its alias.
type vaultFile struct {
	V       int                    `json:"v"`
	Salt    []byte                 `json:"salt"`
	N       int                    `json:"scrypt_N"`
	R       int                    `json:"scrypt_r"`
	P       int                    `json:"scrypt_p"`
	Check   []byte                 `json:"check"`
	Records map[string]sealedEntry `json:"records"`
}

type sealedEntry struct {
	InstanceID string `json:"instance_id"`
	Key        []byte `json:"key"`
}

var _ Vault = (*FileVault)(nil)

// FileVault keeps records in a single passphrase protected file.
// Every operation re-reads the file under a lock file so that
// several processes can share one vault.
type FileVault struct {
	path   string
	mu     sync.Mutex
	lock   *filelock.Lock
	cipher *encryption.Cipher
}

// OpenFileVault opens the vault file at path, creating it with
// params if it doesn't exist. A zero params uses DefaultScryptParams.
func OpenFileVault(path, passphrase string, params ScryptParams) (*FileVault, error) {
	if params == (ScryptParams{}) {
		params = DefaultScryptParams
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("could not create vault directory: %s", err)
	}

	lock, err := filelock.New(path+".lock", 0)

	if err != nil {
		return nil, err
	}

	v := &FileVault{path: path, lock: lock}

	if err := lock.Lock(); err != nil {
		lock.Close()

		return nil, err
	}

	defer lock.Unlock()

	file, err := v.read()

	if err != nil {
		lock.Close()

		return nil, err
	}

	if file == nil {
		file = &vaultFile{V: fileFormatVersion, Salt: make([]byte, saltSize), N: params.N, R: params.R, P: params.P, Records: map[string]sealedEntry{}}

		if _, err := io.ReadFull(rand.Reader, file.Salt); err != nil {
			lock.Close()

			return nil, err
		}
	} else if file.V > fileFormatVersion {
		lock.Close()

		return nil, fmt.Errorf("unsupported vault version %d", file.V)
	}

	kek, err := scrypt.Key([]byte(passphrase), file.Salt, file.N, file.R, file.P, encryption.KeySize)

	if err != nil {
		lock.Close()

		return nil, fmt.Errorf("could not derive vault key: %s", err)
	}

	defer encryption.Zero(kek)

	if v.cipher, err = encryption.New(kek); err != nil {
		lock.Close()

		return nil, err
	}

	if file.Check == nil {
		if file.Check, err = v.cipher.KeyCheck(); err != nil {
			lock.Close()

			return nil, err
		}

		if err := v.write(file); err != nil {
			lock.Close()

			return nil, err
		}
	} else if err := v.cipher.VerifyKeyCheck(file.Check); err != nil {
		lock.Close()

		return nil, ErrWrongPassphrase
	}

	return v, nil
}

// Path returns the vault file path
func (v *FileVault) Path() string {
	return v.path
}

// Close releases the vault's lock file
func (v *FileVault) Close() error {
	return v.lock.Close()
}

func (v *FileVault) read() (*vaultFile, error) {
	b, err := os.ReadFile(v.path)

	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("could not read vault: %s", err)
	}

	var file vaultFile

	if err := json.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWrongPassphrase, err)
	}

	if file.Records == nil {
		file.Records = map[string]sealedEntry{}
	}

	return &file, nil
}

func (v *FileVault) write(file *vaultFile) error {
	b, err := json.MarshalIndent(file, "", "  ")

	if err != nil {
		return err
	}

	return writeFile(v.path, b, 0600)
}

// update runs fn on the current file contents while holding the
// lock and writes the file back if fn reports a change
func (v *FileVault) update(fn func(file *vaultFile) (bool, error)) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.lock.Lock(); err != nil {
		return err
	}

	defer v.lock.Unlock()

	file, err := v.read()

	if err != nil {
		return err
	} else if file == nil {
		return fmt.Errorf("vault file %s was removed", v.path)
	}

	changed, err := fn(file)

	if err != nil || !changed {
		return err
	}

	return v.write(file)
}

// Put implements Vault.Put
func (v *FileVault) Put(record Record) error {
	if record.Alias == "" {
		return ErrEmptyAlias
	}

	sealed, err := v.cipher.Seal(record.Key, []byte(record.Alias))

	if err != nil {
		return err
	}

	return v.update(func(file *vaultFile) (bool, error) {
		file.Records[record.Alias] = sealedEntry{InstanceID: record.InstanceID, Key: sealed}

		return true, nil
	})
}

// Get implements Vault.Get
func (v *FileVault) Get(alias string) (Record, bool, error) {
	if alias == "" {
		return Record{}, false, ErrEmptyAlias
	}

	var record Record
	var found bool

	err := v.update(func(file *vaultFile) (bool, error) {
		entry, ok := file.Records[alias]

		if !ok {
			return false, nil
		}

		key, err := v.cipher.Open(entry.Key, []byte(alias))

		if err != nil {
			return false, ErrWrongPassphrase
		}

		record = Record{Alias: alias, Key: key, InstanceID: entry.InstanceID}
		found = true

		return false, nil
	})

	return record, found, err
}

// Delete implements Vault.Delete
func (v *FileVault) Delete(alias string) error {
	if alias == "" {
		return ErrEmptyAlias
	}

	return v.update(func(file *vaultFile) (bool, error) {
		if _, ok := file.Records[alias]; !ok {
			return false, nil
		}

		delete(file.Records, alias)

		return true, nil
	})
}

// Aliases lists the aliases currently stored in sorted order
func (v *FileVault) Aliases() ([]string, error) {
	var aliases []string

	err := v.update(func(file *vaultFile) (bool, error) {
		for alias := range file.Records {
			aliases = append(aliases, alias)
		}

		sort.Strings(aliases)

		return false, nil
	})

	return aliases, err
}

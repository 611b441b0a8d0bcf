package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/gatewayd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketProjects      = []byte("projects")
	bucketAccounts      = []byte("accounts")
	bucketCustomDomains = []byte("custom_domains")
	bucketTasks         = []byte("tasks")
	bucketCerts         = []byte("certs")
)

const apexCertKey = "apex"

// BoltStore implements Store on top of an embedded BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the gateway's BoltDB file under
// dataDir and ensures every bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "gatewayd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketProjects, bucketAccounts, bucketCustomDomains, bucketTasks, bucketCerts} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// --- Projects ---

func (s *BoltStore) CreateProject(p *types.Project) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put([]byte(p.Name), data)
	})
}

func (s *BoltStore) GetProject(name string) (*types.Project, error) {
	var p types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		data := b.Get([]byte(name))
		if data == nil {
			return NewNotFoundError(fmt.Sprintf("project not found: %s", name))
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListProjects() ([]*types.Project, error) {
	var projects []*types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		return b.ForEach(func(k, v []byte) error {
			var p types.Project
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			projects = append(projects, &p)
			return nil
		})
	})
	return projects, err
}

func (s *BoltStore) UpdateProject(p *types.Project) error { return s.CreateProject(p) }

func (s *BoltStore) DeleteProject(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).Delete([]byte(name))
	})
}

// --- Accounts ---

func (s *BoltStore) CreateAccount(a *types.Account) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return b.Put([]byte(a.Name), data)
	})
}

func (s *BoltStore) GetAccount(name string) (*types.Account, error) {
	var a types.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		data := b.Get([]byte(name))
		if data == nil {
			return NewNotFoundError(fmt.Sprintf("account not found: %s", name))
		}
		return json.Unmarshal(data, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *BoltStore) GetAccountByAPIKeyHash(hash string) (*types.Account, error) {
	var found *types.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		return b.ForEach(func(k, v []byte) error {
			var a types.Account
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.APIKeyHash == hash {
				found = &a
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, NewNotFoundError("account not found for api key")
	}
	return found, nil
}

func (s *BoltStore) ListAccounts() ([]*types.Account, error) {
	var accounts []*types.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		return b.ForEach(func(k, v []byte) error {
			var a types.Account
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			accounts = append(accounts, &a)
			return nil
		})
	})
	return accounts, err
}

func (s *BoltStore) UpdateAccount(a *types.Account) error { return s.CreateAccount(a) }

// --- Custom domains ---

func (s *BoltStore) CreateCustomDomain(d *types.CustomDomain) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCustomDomains)
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return b.Put([]byte(d.FQDN), data)
	})
}

func (s *BoltStore) GetCustomDomain(fqdn string) (*types.CustomDomain, error) {
	var d types.CustomDomain
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCustomDomains)
		data := b.Get([]byte(fqdn))
		if data == nil {
			return NewNotFoundError(fmt.Sprintf("custom domain not found: %s", fqdn))
		}
		return json.Unmarshal(data, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *BoltStore) ListCustomDomains() ([]*types.CustomDomain, error) {
	var domains []*types.CustomDomain
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCustomDomains)
		return b.ForEach(func(k, v []byte) error {
			var d types.CustomDomain
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			domains = append(domains, &d)
			return nil
		})
	})
	return domains, err
}

func (s *BoltStore) ListCustomDomainsByProject(projectName string) ([]*types.CustomDomain, error) {
	all, err := s.ListCustomDomains()
	if err != nil {
		return nil, err
	}
	var filtered []*types.CustomDomain
	for _, d := range all {
		if d.ProjectName == projectName {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateCustomDomain(d *types.CustomDomain) error { return s.CreateCustomDomain(d) }

func (s *BoltStore) DeleteCustomDomain(fqdn string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCustomDomains).Delete([]byte(fqdn))
	})
}

// --- Tasks (durable overflow/replay log) ---

func (s *BoltStore) SaveTask(t *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return b.Put(taskKey(t.ID), data)
	})
}

func (s *BoltStore) DeleteTask(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete(taskKey(id))
	})
}

func (s *BoltStore) ListPendingTasks() ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			tasks = append(tasks, &t)
			return nil
		})
	})
	return tasks, err
}

func taskKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// --- Apex wildcard certificate ---

type certRecord struct {
	Chain []byte
	Key   []byte
}

func (s *BoltStore) SaveApexCert(chain, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCerts)
		data, err := json.Marshal(certRecord{Chain: chain, Key: key})
		if err != nil {
			return err
		}
		return b.Put([]byte(apexCertKey), data)
	})
}

func (s *BoltStore) GetApexCert() ([]byte, []byte, error) {
	var rec certRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCerts)
		data := b.Get([]byte(apexCertKey))
		if data == nil {
			return NewNotFoundError("apex certificate not found")
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, nil, err
	}
	return rec.Chain, rec.Key, nil
}

package storage

import (
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
)

// TokenStore хранит непрозрачный токен dashboard-сессии между запусками.
// Load возвращает "" без ошибки, если токена нет.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

var (
	sessionBucket = []byte("session")
	authTokenKey  = []byte("auth_token")
)

const boltOpenTimeout = 2 * time.Second

// BoltTokenStore - TokenStore поверх bbolt-файла. Один ключ в одном бакете.
type BoltTokenStore struct {
	db *bbolt.DB
}

var _ TokenStore = (*BoltTokenStore)(nil)

// OpenBoltTokenStore открывает (или создаёт) bbolt-файл и бакет сессии.
// Файл блокируется bbolt'ом: второй процесс панели с тем же путём получит ошибку по таймауту.
func OpenBoltTokenStore(path string) (*BoltTokenStore, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("storage: session file path is empty")
	}
	if err := EnsureDir(p); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(p, DefaultFilePerm, &bbolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, errors.Wrapf(err, "storage: open %s", p)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, bucketErr := tx.CreateBucketIfNotExists(sessionBucket)
		return bucketErr
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "storage: create session bucket")
	}
	return &BoltTokenStore{db: db}, nil
}

// Load читает токен. Пустое значение означает «сессии нет».
func (s *BoltTokenStore) Load() (string, error) {
	var token string
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(sessionBucket)
		if bucket == nil {
			return nil
		}
		token = string(bucket.Get(authTokenKey))
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "storage: load token")
	}
	return token, nil
}

// Save перезаписывает токен. Пустой токен равносилен Clear.
func (s *BoltTokenStore) Save(token string) error {
	if token == "" {
		return s.Clear()
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, bucketErr := tx.CreateBucketIfNotExists(sessionBucket)
		if bucketErr != nil {
			return bucketErr
		}
		return bucket.Put(authTokenKey, []byte(token))
	})
	if err != nil {
		return errors.Wrap(err, "storage: save token")
	}
	return nil
}

// Clear удаляет токен. Отсутствие бакета или ключа ошибкой не считается.
func (s *BoltTokenStore) Clear() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(sessionBucket)
		if bucket == nil {
			return nil
		}
		return bucket.Delete(authTokenKey)
	})
	if err != nil {
		return errors.Wrap(err, "storage: clear token")
	}
	return nil
}

// Close закрывает файл базы.
func (s *BoltTokenStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// MemoryTokenStore - TokenStore в памяти процесса (тесты и запуск без файла сессии).
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

var _ TokenStore = (*MemoryTokenStore)(nil)

// NewMemoryTokenStore создаёт хранилище с начальным токеном (может быть пустым).
func NewMemoryTokenStore(token string) *MemoryTokenStore {
	return &MemoryTokenStore{token: token}
}

func (m *MemoryTokenStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryTokenStore) Save(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemoryTokenStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

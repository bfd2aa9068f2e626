// Package storage - утилиты безопасной работы с локальным хранилищем панели.
//   - EnsureDir - гарантирует наличие директории для целевого пути;
//   - AtomicWriteFile - атомарная запись файла (экспорт черновика конфигурации);
//   - TokenStore - персистентный токен dashboard-сессии (bbolt или память).
package storage

import (
	"os"
	"path/filepath"

	"github.com/go-faster/errors"

	"botpanel/internal/infra/logger"
)

// DefaultFilePerm - права на файлы, которые пишет панель. Токен и экспорт конфигурации
// содержат секреты (api_hash, gemini_api_key), поэтому доступ только владельцу.
const DefaultFilePerm = 0o600

// EnsureDir гарантирует наличие каталога для указанного файла.
// Если путь не содержит директорию ("." или пустая строка), ничего не делает.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "create dir %s", dir)
	}
	return nil
}

// AtomicWriteFile атомарно записывает байты в файл path.
//
// Алгоритм: temp в той же директории → write → fsync(temp) → chmod(DefaultFilePerm)
// → close → rename → fsync(dir). Либо старый файл остаётся цел, либо новый записан полностью.
// os.Rename атомарен только в пределах одного тома; fsync каталога выполняется best-effort.
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	tmp, err := os.CreateTemp(dir, "atomic-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "fsync temp file")
	}
	if err := tmp.Chmod(DefaultFilePerm); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "chmod temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}

	if err := os.Rename(tmpName, clean); err != nil {
		return errors.Wrap(err, "rename temp file")
	}

	if dirFile, err := os.Open(dir); err == nil {
		if errSync := dirFile.Sync(); errSync != nil {
			logger.Warnf("AtomicWriteFile: dir sync error: %v", errSync) // best-effort для Windows/некоторых FS
		}
		_ = dirFile.Close()
	}
	return nil
}

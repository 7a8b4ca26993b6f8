package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	// maxBackups is the number of snapshots kept before rotation.
	maxBackups = 14

	backupDirName    = "backups"
	backupFilePrefix = "habitsync-"
	backupFileSuffix = ".db"
)

// BackupInfo describes one snapshot on disk.
type BackupInfo struct {
	Path      string
	Timestamp time.Time
	Size      int64
}

// BackupManager snapshots and restores the store's database file.
type BackupManager struct {
	dbPath    string
	backupDir string
}

// NewBackupManager creates a manager storing snapshots in a backups/
// directory next to the database file.
func NewBackupManager(dbPath string) *BackupManager {
	return &BackupManager{
		dbPath:    dbPath,
		backupDir: filepath.Join(filepath.Dir(dbPath), backupDirName),
	}
}

// Dir returns the backup directory path.
func (m *BackupManager) Dir() string {
	return m.backupDir
}

// Create snapshots the current database and rotates old snapshots.
// Returns the path of the new backup file.
func (m *BackupManager) Create(ctx context.Context) (string, error) {
	if err := os.MkdirAll(m.backupDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	if _, err := os.Stat(m.dbPath); os.IsNotExist(err) {
		return "", fmt.Errorf("database does not exist: %s", m.dbPath)
	}

	name := backupFilePrefix + time.Now().Format("20060102-150405") + backupFileSuffix
	backupPath := filepath.Join(m.backupDir, name)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(backupPath); os.IsNotExist(err) {
			break
		}
		backupPath = filepath.Join(m.backupDir,
			fmt.Sprintf("%s%s-%d%s", backupFilePrefix, time.Now().Format("20060102-150405"), counter, backupFileSuffix))
		if counter > 100 {
			return "", fmt.Errorf("failed to generate unique backup filename")
		}
	}

	if err := m.snapshot(ctx, backupPath); err != nil {
		return "", fmt.Errorf("failed to snapshot database: %w", err)
	}

	if err := m.rotate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to rotate old backups: %v\n", err)
	}

	return backupPath, nil
}

// snapshot writes a clean copy of the database via VACUUM INTO, falling
// back to a plain file copy on engines without it.
func (m *BackupManager) snapshot(ctx context.Context, destPath string) error {
	src, err := sql.Open("sqlite3", "file:"+m.dbPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open source database: %w", err)
	}
	defer src.Close()

	var count int
	if err := src.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master").Scan(&count); err != nil {
		return fmt.Errorf("source database appears to be corrupted: %w", err)
	}

	if _, err := src.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return copyFile(m.dbPath, destPath)
	}
	return nil
}

// List returns available snapshots, newest first.
func (m *BackupManager) List() ([]BackupInfo, error) {
	entries, err := os.ReadDir(m.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupFilePrefix) || !strings.HasSuffix(name, backupFileSuffix) {
			continue
		}

		stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupFilePrefix), backupFileSuffix)
		if i := strings.LastIndexByte(stamp, '-'); i > len("20060102") {
			// Trim a -N uniqueness counter if present.
			if _, err := time.Parse("20060102-150405", stamp); err != nil {
				stamp = stamp[:i]
			}
		}
		ts, err := time.Parse("20060102-150405", stamp)
		if err != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			Path:      filepath.Join(m.backupDir, name),
			Timestamp: ts,
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

func (m *BackupManager) rotate() error {
	backups, err := m.List()
	if err != nil {
		return err
	}
	for i := maxBackups; i < len(backups); i++ {
		if err := os.Remove(backups[i].Path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", backups[i].Path, err)
		}
	}
	return nil
}

// Restore replaces the database file with the given snapshot.
//
// The store must be closed before calling this; the caller reopens it (and
// re-runs migrations) afterwards. The current file is snapshotted aside
// first so a restore is itself recoverable.
func (m *BackupManager) Restore(ctx context.Context, backupPath string) error {
	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		return fmt.Errorf("backup file does not exist: %s", backupPath)
	}

	if err := verifySnapshot(ctx, backupPath); err != nil {
		return fmt.Errorf("backup file is corrupted or invalid: %w", err)
	}

	if _, err := os.Stat(m.dbPath); err == nil {
		if _, err := m.Create(ctx); err != nil {
			return fmt.Errorf("failed to snapshot current database before restore: %w", err)
		}
	}

	tmpPath := m.dbPath + ".restore.tmp"
	if err := copyFile(backupPath, tmpPath); err != nil {
		return fmt.Errorf("failed to copy backup file: %w", err)
	}
	if err := os.Rename(tmpPath, m.dbPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to restore database: %w", err)
	}

	// Stale WAL/SHM files would shadow the restored content.
	_ = os.Remove(m.dbPath + "-wal")
	_ = os.Remove(m.dbPath + "-shm")

	return nil
}

// RestoreLatest restores the most recent snapshot.
func (m *BackupManager) RestoreLatest(ctx context.Context) (string, error) {
	backups, err := m.List()
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", fmt.Errorf("no backups available in %s", m.backupDir)
	}
	if err := m.Restore(ctx, backups[0].Path); err != nil {
		return "", err
	}
	return backups[0].Path, nil
}

func verifySnapshot(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return err
	}
	defer db.Close()

	var count int
	return db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master").Scan(&count)
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := destFile.ReadFrom(sourceFile); err != nil {
		return err
	}
	return destFile.Sync()
}

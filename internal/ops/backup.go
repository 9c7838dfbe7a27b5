package ops

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gofixpoint/fixpoint/internal/config"
	"github.com/gofixpoint/fixpoint/internal/model"
	"github.com/gofixpoint/fixpoint/internal/serverapp"
)

const (
	manifestEntry = "manifest.json"
	sqliteEntry   = "tasks.db"
)

var ErrNothingToBackup = errors.New("memory storage keeps nothing on disk")

// Manifest is the first entry of every archive.
type Manifest struct {
	CreatedAt string   `json:"createdAt"`
	Driver    string   `json:"driver"`
	Tasks     int64    `json:"tasks"`
	Files     []string `json:"files"`
}

type snapshotter interface {
	SnapshotTo(ctx context.Context, path string) error
}

// Backup archives the data directory behind cfg. SQLite databases are
// copied through a snapshot so a running server can stay up.
func Backup(ctx context.Context, cfg config.StorageConfig, archivePath string, logger *zap.Logger) (Manifest, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	archivePath = filepath.Clean(strings.TrimSpace(archivePath))
	if archivePath == "." || archivePath == "" {
		return Manifest{}, fmt.Errorf("archive path is required")
	}
	if cfg.Driver == config.DriverMemory {
		return Manifest{}, ErrNothingToBackup
	}

	repo, closeRepo, err := serverapp.OpenRepo(cfg)
	if err != nil {
		return Manifest{}, err
	}
	defer func() { _ = closeRepo() }()

	n, err := repo.Count(ctx)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Driver:    cfg.Driver,
		Tasks:     n,
	}

	sources := map[string]string{}
	skip := map[string]bool{}
	if cfg.Driver == config.DriverSQLite {
		snap, ok := repo.(snapshotter)
		if !ok {
			return Manifest{}, fmt.Errorf("sqlite repo cannot snapshot")
		}
		staging, err := os.MkdirTemp("", "fixpoint-backup-")
		if err != nil {
			return Manifest{}, err
		}
		defer os.RemoveAll(staging)

		dbCopy := filepath.Join(staging, sqliteEntry)
		if err := snap.SnapshotTo(ctx, dbCopy); err != nil {
			return Manifest{}, err
		}
		sources[sqliteEntry] = dbCopy
		db := filepath.Clean(cfg.SQLitePath)
		for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
			skip[db+suffix] = true
		}
	}

	if err := collectDir(cfg.DataDir, skip, sources); err != nil {
		return Manifest{}, err
	}
	for name := range sources {
		m.Files = append(m.Files, name)
	}
	sort.Strings(m.Files)

	if err := writeArchive(archivePath, m, sources); err != nil {
		return Manifest{}, err
	}
	logger.Info("backup written",
		zap.String("archive", archivePath),
		zap.String("driver", m.Driver),
		zap.Int64("tasks", m.Tasks),
		zap.Int("files", len(m.Files)),
	)
	return m, nil
}

// collectDir adds every regular file under dir to sources, keyed by its
// slash separated path relative to dir. A missing dir adds nothing.
func collectDir(dir string, skip map[string]bool, sources map[string]string) error {
	dir = filepath.Clean(dir)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() || skip[filepath.Clean(path)] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == manifestEntry {
			return nil
		}
		if _, taken := sources[rel]; !taken {
			sources[rel] = path
		}
		return nil
	})
}

func writeArchive(archivePath string, m Manifest, sources map[string]string) (err error) {
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	mb, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:     manifestEntry,
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(mb)),
		ModTime:  time.Now(),
	}); err != nil {
		return err
	}
	if _, err := tw.Write(mb); err != nil {
		return err
	}

	for _, name := range m.Files {
		if err := addFile(tw, name, sources[name]); err != nil {
			return fmt.Errorf("archive %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFile(tw *tar.Writer, name, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, src)
	return err
}

// Restore unpacks archivePath into targetDir and returns its manifest.
func Restore(archivePath, targetDir string) (Manifest, error) {
	archivePath = filepath.Clean(strings.TrimSpace(archivePath))
	targetDir = filepath.Clean(strings.TrimSpace(targetDir))
	if archivePath == "" || targetDir == "" || targetDir == "." {
		return Manifest{}, fmt.Errorf("archive path and target dir are required")
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return Manifest{}, err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return Manifest{}, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return Manifest{}, err
	}
	defer gz.Close()

	var (
		m           Manifest
		sawManifest bool
	)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Manifest{}, err
		}
		rel, err := sanitizeEntry(hdr.Name)
		if err != nil {
			return Manifest{}, err
		}
		if rel == manifestEntry {
			if err := json.NewDecoder(tr).Decode(&m); err != nil {
				return Manifest{}, fmt.Errorf("decode manifest: %w", err)
			}
			sawManifest = true
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := extractFile(tr, filepath.Join(targetDir, rel), os.FileMode(hdr.Mode)); err != nil {
			return Manifest{}, err
		}
	}
	if !sawManifest {
		return Manifest{}, fmt.Errorf("%s has no %s", archivePath, manifestEntry)
	}
	return m, nil
}

func extractFile(r io.Reader, outPath string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	dst, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, r); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

func sanitizeEntry(name string) (string, error) {
	name = filepath.Clean(strings.TrimSpace(name))
	if name == "." || name == "" {
		return "", fmt.Errorf("invalid archive entry path")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid absolute archive entry path: %s", name)
	}
	if name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid archive entry path traversal: %s", name)
	}
	return name, nil
}

// RestoredStorage returns the storage config that reads a restored
// archive in dir.
func RestoredStorage(m Manifest, dir string) config.StorageConfig {
	return config.StorageConfig{
		Driver:     m.Driver,
		DataDir:    dir,
		SQLitePath: filepath.Join(dir, sqliteEntry),
	}
}

// DrillReport is the outcome of a backup and restore rehearsal.
type DrillReport struct {
	Archive    string
	RestoreDir string
	Manifest   Manifest
	Restored   int64
	NewestIDs  []model.TaskID
}

// Drill backs up cfg into workDir, restores the archive next to it and
// checks that the restored store serves the same tasks.
func Drill(ctx context.Context, cfg config.StorageConfig, workDir string, logger *zap.Logger) (DrillReport, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return DrillReport{}, err
	}
	ts := time.Now().UTC().Format("20060102T150405Z")
	rep := DrillReport{
		Archive:    filepath.Join(workDir, "fixpoint-drill-"+ts+".tar.gz"),
		RestoreDir: filepath.Join(workDir, "fixpoint-drill-restore-"+ts),
	}

	m, err := Backup(ctx, cfg, rep.Archive, logger)
	if err != nil {
		return rep, err
	}
	rep.Manifest = m
	if _, err := Restore(rep.Archive, rep.RestoreDir); err != nil {
		return rep, err
	}

	want, err := newestIDs(ctx, cfg)
	if err != nil {
		return rep, err
	}
	restored, closeRestored, err := serverapp.OpenRepo(RestoredStorage(m, rep.RestoreDir))
	if err != nil {
		return rep, err
	}
	defer func() { _ = closeRestored() }()

	if rep.Restored, err = restored.Count(ctx); err != nil {
		return rep, err
	}
	if rep.Restored != m.Tasks {
		return rep, fmt.Errorf("restored %d tasks, manifest lists %d", rep.Restored, m.Tasks)
	}
	page, err := restored.List(ctx, model.ListTasksRequest{PageSize: drillSample})
	if err != nil {
		return rep, err
	}
	for _, t := range page.Tasks {
		rep.NewestIDs = append(rep.NewestIDs, t.ID)
	}
	if !slices.Equal(want, rep.NewestIDs) {
		return rep, fmt.Errorf("newest tasks differ after restore: source=%v restored=%v", want, rep.NewestIDs)
	}
	return rep, nil
}

const drillSample = 10

func newestIDs(ctx context.Context, cfg config.StorageConfig) ([]model.TaskID, error) {
	repo, closeRepo, err := serverapp.OpenRepo(cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = closeRepo() }()
	page, err := repo.List(ctx, model.ListTasksRequest{PageSize: drillSample})
	if err != nil {
		return nil, err
	}
	ids := make([]model.TaskID, 0, len(page.Tasks))
	for _, t := range page.Tasks {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

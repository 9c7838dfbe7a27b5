package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/gofixpoint/fixpoint/internal/config"
	"github.com/gofixpoint/fixpoint/internal/ops"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "backup":
		err = cmdBackup(os.Args[2:])
	case "restore":
		err = cmdRestore(os.Args[2:])
	case "drill":
		err = cmdDrill(os.Args[2:])
	default:
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// storageFlags binds the flags every command uses to find the store.
func storageFlags(fs *flag.FlagSet) func() (config.StorageConfig, error) {
	configPath := fs.String("config", os.Getenv("FIXPOINT_CONFIG"), "path to YAML config")
	dataDir := fs.String("data-dir", "", "override storage.data_dir")
	driver := fs.String("driver", "", "override storage.driver")
	return func() (config.StorageConfig, error) {
		if err := config.LoadDotEnv(); err != nil {
			return config.StorageConfig{}, err
		}
		cfg, err := config.Load(*configPath)
		if err != nil {
			return config.StorageConfig{}, err
		}
		st := cfg.Storage
		if *driver != "" {
			st.Driver = *driver
		}
		if *dataDir != "" {
			st.DataDir = *dataDir
			st.SQLitePath = filepath.Join(*dataDir, "tasks.db")
		}
		return st, nil
	}
}

func cmdBackup(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	storage := storageFlags(fs)
	out := fs.String("out", "", "output archive path (.tar.gz)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := storage()
	if err != nil {
		return err
	}
	if *out == "" {
		ts := time.Now().UTC().Format("20060102T150405Z")
		*out = filepath.Join("backups", "fixpoint-"+ts+".tar.gz")
	}

	m, err := ops.Backup(context.Background(), st, *out, newLogger())
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s, %d tasks)\n", *out, m.Driver, m.Tasks)
	return nil
}

func cmdRestore(args []string) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	archive := fs.String("archive", "", "input backup archive (.tar.gz)")
	target := fs.String("target-dir", "data-restored", "restore target directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *archive == "" {
		return fmt.Errorf("archive is required")
	}
	m, err := ops.Restore(*archive, *target)
	if err != nil {
		return err
	}
	st := ops.RestoredStorage(m, *target)
	fmt.Printf("restored %d tasks from %s\n", m.Tasks, m.CreatedAt)
	fmt.Printf("serve with FIXPOINT_STORAGE_DRIVER=%s FIXPOINT_DATA_DIR=%s\n", st.Driver, st.DataDir)
	return nil
}

func cmdDrill(args []string) error {
	fs := flag.NewFlagSet("drill", flag.ContinueOnError)
	storage := storageFlags(fs)
	workDir := fs.String("work-dir", os.TempDir(), "temporary workspace for drill artifacts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := storage()
	if err != nil {
		return err
	}

	rep, err := ops.Drill(context.Background(), st, *workDir, newLogger())
	if err != nil {
		return err
	}
	fmt.Println("backup:", rep.Archive)
	fmt.Println("restored:", rep.RestoreDir)
	fmt.Printf("tasks: %d (newest %d match)\n", rep.Restored, len(rep.NewestIDs))
	return nil
}

func newLogger() *zap.Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func printUsage() {
	fmt.Println("usage:")
	fmt.Println("  fixpoint-ops backup  [--config fixpoint.yaml] [--data-dir data] --out backups/backup.tar.gz")
	fmt.Println("  fixpoint-ops restore --archive backups/backup.tar.gz --target-dir data-restored")
	fmt.Println("  fixpoint-ops drill   [--config fixpoint.yaml] [--data-dir data] --work-dir /tmp")
}

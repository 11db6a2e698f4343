package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"wbh-go/internal/api"
	"wbh-go/internal/catalog"
	"wbh-go/internal/config"
	"wbh-go/internal/dbbackup"
	"wbh-go/internal/fs"
	"wbh-go/internal/queue"
	"wbh-go/internal/scanner"
	"wbh-go/internal/secrets"
	"wbh-go/internal/tracing"
	"wbh-go/internal/transfer"
	"wbh-go/internal/transport"
	"wbh-go/internal/wbh"
	"wbh-go/internal/watcher"
)

// WBHApp is the application layer between the CLI and the backup
// pipeline. It constructs all dependencies from config, exposes
// high-level operations, and releases everything on Close.
type WBHApp struct {
	cfg       *config.Config
	clock     wbh.Clock
	catalog   *catalog.SQLiteCatalog
	transport wbh.Transport
	engine    *transfer.Engine
	codec     *dbbackup.Codec
	fsmgr     *fs.OSFilesystemManager
	holes     []*wbh.BlackHole
	logger    wbh.Logger
	op        *Operation
	logFile   *os.File
	shutdown  tracing.ShutdownFunc
}

// LoadConfig reads the config at path and fills secret_ref values from
// the secret store. passphrase is only called when a reference needs
// resolving.
func LoadConfig(path string, passphrase func() (string, error)) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if !secrets.NeedsStore(cfg) {
		return cfg, nil
	}

	store := secrets.NewStore(cfg.Secrets.Path)
	if !store.Exists() {
		return nil, fmt.Errorf("config refers to secrets but %s does not exist: run `wbh secrets init`", store.Path())
	}
	pass, err := passphrase()
	if err != nil {
		return nil, err
	}
	s, err := store.Unlock(pass)
	if err != nil {
		return nil, err
	}
	if err := secrets.Resolve(cfg, s); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}
	return cfg, nil
}

// NewWBHApp creates a fully wired WBHApp from the given config.
// operation identifies the CLI command being run (e.g. "Watch", "Get").
// The caller must call Close when done.
func NewWBHApp(ctx context.Context, cfg *config.Config, operation string, console io.Writer) (*WBHApp, error) {
	clock := wbh.RealClock{}
	op := NewOperation(operation, "", clock.Now())

	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, cfg.LogLevel, console)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &WBHApp{
		cfg:     cfg,
		clock:   clock,
		fsmgr:   fs.NewOSFilesystemManager(),
		logger:  logger,
		op:      op,
		logFile: logFile,
	}

	a.shutdown, err = tracing.Init(ctx, cfg.Tracing, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	a.catalog, err = catalog.NewCatalogFromConfig(cfg.Database, clock)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	a.transport, err = transport.NewTransportFromConfig(ctx, cfg.Transport, wbh.UUIDGenerator{})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating transport: %w", err)
	}

	a.engine, err = transfer.NewEngine(a.transport, transfer.Options{
		ChunkSize: cfg.ChunkSize,
		TempDir:   cfg.TempDir,
		MaxRetry:  cfg.MaxDownloadRetry,
	}, clock, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating transfer engine: %w", err)
	}
	a.codec = dbbackup.NewCodec(a.engine, cfg.TempDir, clock, logger)

	for _, bhc := range cfg.BlackHoles {
		hole, err := blackHoleFromConfig(bhc)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.holes = append(a.holes, hole)
	}

	logger.Debug("operation started", "operation", op.Name, "blackholes", len(a.holes), "transport", cfg.Transport.Type)
	return a, nil
}

func blackHoleFromConfig(bhc config.BlackHoleConfig) (*wbh.BlackHole, error) {
	enc, err := wbh.ParseEncryptionType(bhc.Encryption)
	if err != nil {
		return nil, fmt.Errorf("blackhole %s: %w", bhc.Name, err)
	}
	root, err := filepath.Abs(bhc.Path)
	if err != nil {
		return nil, fmt.Errorf("blackhole %s: resolving path: %w", bhc.Name, err)
	}
	hole := &wbh.BlackHole{
		Name:        bhc.Name,
		RootPath:    root,
		Destination: bhc.Destination,
		Encryption:  enc,
		Secret:      bhc.Secret,
	}
	if err := hole.Validate(); err != nil {
		return nil, err
	}
	return hole, nil
}

// Config returns the loaded configuration.
func (a *WBHApp) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *WBHApp) Logger() wbh.Logger { return a.logger }

// Operation returns the operation this app was created for.
func (a *WBHApp) Operation() *Operation { return a.op }

// BlackHoles returns the configured BlackHoles.
func (a *WBHApp) BlackHoles() []*wbh.BlackHole { return a.holes }

// BlackHole returns the configured BlackHole with the given name.
func (a *WBHApp) BlackHole(name string) (*wbh.BlackHole, error) {
	for _, h := range a.holes {
		if h.Name == name {
			return h, nil
		}
	}
	return nil, fmt.Errorf("no blackhole named %q in config", name)
}

// prepare creates the root and queue directory of hole, resolves its
// catalog id and writes the per-root metadata file.
func (a *WBHApp) prepare(ctx context.Context, hole *wbh.BlackHole) error {
	if err := os.MkdirAll(hole.Dir(a.cfg.QueueDirname), 0755); err != nil {
		return fmt.Errorf("blackhole %s: creating queue directory: %w", hole.Name, err)
	}
	if hole.ID == 0 {
		id, err := a.catalog.GetOrCreateBlackHole(ctx, hole.Name, hole.Destination)
		if err != nil {
			return fmt.Errorf("blackhole %s: %w", hole.Name, err)
		}
		hole.ID = id
	}
	if err := wbh.WriteHoleFile(hole.Dir(a.cfg.HoleFilename), hole); err != nil {
		return fmt.Errorf("blackhole %s: %w", hole.Name, err)
	}
	return nil
}

// AddBlackHole registers a new root: it creates the directories, writes
// the metadata file and appends the entry to the config at configPath.
func (a *WBHApp) AddBlackHole(ctx context.Context, bhc config.BlackHoleConfig, configPath string) (*wbh.BlackHole, error) {
	a.op.Parameters = bhc.Name
	if a.cfg.FindBlackHole(bhc.Name) != nil {
		return nil, a.op.Fail(fmt.Errorf("blackhole %s already exists", bhc.Name))
	}
	hole, err := blackHoleFromConfig(bhc)
	if err != nil {
		return nil, a.op.Fail(err)
	}
	bhc.Path = hole.RootPath
	if err := a.prepare(ctx, hole); err != nil {
		return nil, a.op.Fail(err)
	}

	a.cfg.BlackHoles = append(a.cfg.BlackHoles, bhc)
	// Never write resolved secret_ref values back.
	persisted := *a.cfg
	persisted.BlackHoles = make([]config.BlackHoleConfig, len(a.cfg.BlackHoles))
	copy(persisted.BlackHoles, a.cfg.BlackHoles)
	for i := range persisted.BlackHoles {
		if persisted.BlackHoles[i].SecretRef != "" {
			persisted.BlackHoles[i].Secret = ""
		}
	}
	if persisted.Backup.SecretRef != "" {
		persisted.Backup.Secret = ""
	}
	if err := config.Save(configPath, &persisted); err != nil {
		return nil, a.op.Fail(err)
	}

	a.holes = append(a.holes, hole)
	a.logger.Info("blackhole added", "blackhole", hole.Name, "path", hole.RootPath, "id", hole.ID)
	return hole, nil
}

// pipeline builds the scanner and queue of one BlackHole.
func (a *WBHApp) pipeline(ctx context.Context, hole *wbh.BlackHole) (*watcher.Pipeline, error) {
	if err := a.prepare(ctx, hole); err != nil {
		return nil, err
	}
	qdir := hole.Dir(a.cfg.QueueDirname)
	store, err := queue.NewFileStore(filepath.Join(qdir, queue.DocumentName))
	if err != nil {
		return nil, err
	}
	q, err := queue.New(hole, qdir, queue.Deps{
		Store:   store,
		Catalog: a.catalog,
		Sender:  a.engine,
		FS:      a.fsmgr,
		IDs:     wbh.UUIDGenerator{},
		Clock:   a.clock,
		Logger:  a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("blackhole %s: loading queue: %w", hole.Name, err)
	}
	ignore, err := scanner.RootIgnore(hole.RootPath, a.cfg.Filesystem.Ignore, a.cfg.QueueDirname, a.cfg.HoleFilename)
	if err != nil {
		return nil, err
	}
	a.logger.Info("blackhole ready", "blackhole", hole.Name, "path", hole.RootPath, "queued", q.Len())
	return &watcher.Pipeline{
		Hole:    hole,
		Scanner: scanner.New(hole, a.fsmgr, ignore, a.logger),
		Queue:   q,
	}, nil
}

// Watch runs the polling scheduler over every BlackHole until ctx is
// cancelled.
func (a *WBHApp) Watch(ctx context.Context) error {
	if len(a.holes) == 0 {
		return a.op.Fail(fmt.Errorf("no blackholes configured: run `wbh hole add`"))
	}
	var pipelines []*watcher.Pipeline
	for _, hole := range a.holes {
		p, err := a.pipeline(ctx, hole)
		if err != nil {
			return a.op.Fail(err)
		}
		pipelines = append(pipelines, p)
	}

	w := watcher.New(pipelines, a.cfg.PollInterval(), a.logger).WithTempDir(a.cfg.TempDir)
	if a.cfg.Backup.Secret != "" && a.cfg.Backup.Destination != "" {
		w = w.WithBackup(func(ctx context.Context) error {
			_, err := a.BackupCatalog(ctx)
			return err
		})
	} else {
		a.logger.Warn("catalog backups disabled: backup secret or destination not set")
	}

	err := w.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return a.op.Fail(err)
}

// BackupCatalog snapshots the catalog and posts the recovery code to the
// backup destination. It returns the code segments.
func (a *WBHApp) BackupCatalog(ctx context.Context) ([]string, error) {
	if a.cfg.Backup.Destination == "" {
		return nil, a.op.Fail(fmt.Errorf("backup destination is not set"))
	}
	name := filepath.Base(a.cfg.Database.Path())
	segments, err := a.codec.Backup(ctx, a.catalog, name, a.cfg.Backup.Secret, a.cfg.Backup.Destination)
	return segments, a.op.Fail(err)
}

// RestoreCatalog rebuilds the catalog file from a recovery code and
// reopens it. The current file is kept as the newest numbered backup.
func (a *WBHApp) RestoreCatalog(ctx context.Context, code, secret string) error {
	if a.cfg.Database.Type != "sqlite" {
		return a.op.Fail(fmt.Errorf("restore needs a sqlite catalog, have %s", a.cfg.Database.Type))
	}
	code = strings.TrimSpace(code)
	if err := a.catalog.Close(); err != nil {
		return a.op.Fail(fmt.Errorf("closing catalog: %w", err))
	}
	restoreErr := a.codec.Restore(ctx, code, secret, a.cfg.Database.Path(), a.cfg.KeepDBBackup)

	reopened, err := catalog.NewCatalogFromConfig(a.cfg.Database, a.clock)
	if err != nil {
		a.catalog = nil
		return a.op.Fail(fmt.Errorf("reopening catalog: %w", err))
	}
	a.catalog = reopened
	if restoreErr != nil {
		return a.op.Fail(restoreErr)
	}
	a.logger.Info("catalog restored", "path", a.cfg.Database.Path())
	return nil
}

// CatalogStatus describes the local catalog.
type CatalogStatus struct {
	Path       string
	Size       int64
	BlackHoles []*wbh.CatalogBlackHole
}

// Status reports the catalog location, file size and recorded BlackHoles.
func (a *WBHApp) Status(ctx context.Context) (*CatalogStatus, error) {
	bhs, err := a.catalog.GetBlackHoles(ctx)
	if err != nil {
		return nil, err
	}
	st := &CatalogStatus{Path: a.cfg.Database.Path(), BlackHoles: bhs}
	if info, err := os.Stat(st.Path); err == nil {
		st.Size = info.Size()
	}
	return st, nil
}

// catalogHole resolves the catalog row of a configured BlackHole.
func (a *WBHApp) catalogHole(ctx context.Context, name string) (*wbh.BlackHole, error) {
	hole, err := a.BlackHole(name)
	if err != nil {
		return nil, err
	}
	if hole.ID == 0 {
		id, err := a.catalog.GetOrCreateBlackHole(ctx, hole.Name, hole.Destination)
		if err != nil {
			return nil, err
		}
		hole.ID = id
	}
	return hole, nil
}

// List returns the cataloged children of parentID (zero for the root)
// in the named BlackHole.
func (a *WBHApp) List(ctx context.Context, name string, parentID int64) ([]*wbh.CatalogItem, error) {
	hole, err := a.catalogHole(ctx, name)
	if err != nil {
		return nil, a.op.Fail(err)
	}
	items, err := a.catalog.GetChildren(ctx, hole.ID, parentID)
	return items, a.op.Fail(err)
}

// Get downloads a cataloged file or directory into destDir and returns
// the number of bytes written.
func (a *WBHApp) Get(ctx context.Context, name string, itemID int64, destDir string) (int64, error) {
	a.op.Parameters = fmt.Sprintf("%s/%d", name, itemID)
	hole, err := a.catalogHole(ctx, name)
	if err != nil {
		return 0, a.op.Fail(err)
	}
	item, err := a.catalog.GetItem(ctx, hole.ID, itemID)
	if err != nil {
		return 0, a.op.Fail(err)
	}
	if item == nil {
		return 0, a.op.Fail(fmt.Errorf("item %d not found in blackhole %s", itemID, name))
	}
	n, err := a.engine.Download(ctx, a.catalog, item, hole.Secret, destDir)
	if err != nil {
		return n, a.op.Fail(err)
	}
	a.logger.Info("item downloaded", "blackhole", name, "item", item.FullPath, "bytes", n, "dest", destDir)
	return n, nil
}

// Serve runs the read-only catalog API until ctx is cancelled.
func (a *WBHApp) Serve(ctx context.Context) error {
	if a.cfg.API.Listen == "" {
		return a.op.Fail(fmt.Errorf("api.listen is not set"))
	}
	return a.op.Fail(api.New(a.catalog, a.logger).ListenAndServe(ctx, a.cfg.API.Listen))
}

// Close logs the outcome of the operation and releases all resources.
func (a *WBHApp) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.catalog != nil {
		keep(a.catalog.Close())
	}
	if c, ok := a.transport.(io.Closer); ok {
		keep(c.Close())
	}
	if a.shutdown != nil {
		keep(a.shutdown(context.Background()))
	}
	if a.logger != nil {
		a.logger.Debug("operation finished",
			"operation", a.op.Name,
			"parameters", a.op.Parameters,
			"status", a.op.Status,
			"elapsed", a.op.Elapsed(a.clock.Now()))
	}
	if a.logFile != nil {
		keep(a.logFile.Close())
	}
	return firstErr
}

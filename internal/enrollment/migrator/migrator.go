// Package migrator moves an application's documents from the pending and
// intake tiers into the permanent tier.
package migrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"enrolld/internal/enrollment/models"
	dErrors "enrolld/pkg/domain-errors"
)

// Migrator copies documents between tiers under one storage root.
type Migrator struct {
	root   string
	logger *slog.Logger
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the migrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) {
		m.logger = logger
	}
}

// New creates the tier directories under root.
func New(root string, opts ...Option) (*Migrator, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	m := &Migrator{root: root, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	for _, t := range tiers {
		if err := os.MkdirAll(filepath.Join(root, string(t)), 0o750); err != nil {
			return nil, fmt.Errorf("create %s tier: %w", t, err)
		}
	}
	return m, nil
}

// Resolve maps a stored path to its location on disk.
func (m *Migrator) Resolve(stored string) (string, error) {
	tier, name, err := splitStored(stored)
	if err != nil {
		return "", err
	}
	return m.abs(tier, name), nil
}

func (m *Migrator) abs(tier Tier, name string) string {
	return filepath.Join(m.root, string(tier), name)
}

type plannedCopy struct {
	slot     models.Slot
	origin   string
	src      string
	dest     string
	name     string
	previous string
}

// Migrate moves every non-terminal entry of files to the permanent tier and
// returns the resulting map with the records needed to undo it.
//
// All copies are made and verified before any source is deleted. A permanent
// document already stored under the destination name is set aside first. If
// any copy fails, every destination written by this call is removed, set-aside
// documents are put back and the sources are left as they were. Entries
// already in the permanent tier pass through. An entry whose source is gone
// but whose permanent copy exists (a previous attempt got that far) is adopted.
func (m *Migrator) Migrate(ctx context.Context, app *models.PendingApplication, files models.FileMap) (models.FileMap, []models.MigrationRecord, error) {
	result := make(models.FileMap, len(files))
	var plan []plannedCopy

	for _, slot := range models.AllSlots {
		stored := files[slot]
		if stored == "" {
			continue
		}
		tier, name, err := splitStored(stored)
		if err != nil {
			return nil, nil, err
		}
		if tier.IsTerminal() {
			result[slot] = stored
			continue
		}
		canonical := CanonicalName(app, slot, path.Ext(name))
		dest := m.abs(TierPermanent, canonical)
		src := m.abs(tier, name)

		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			if info, statErr := os.Stat(dest); statErr == nil && info.Size() > 0 {
				m.logger.InfoContext(ctx, "adopting previously migrated document",
					"national_id", app.NationalID.String(), "slot", string(slot), "path", stored)
				result[slot] = path.Join(string(TierPermanent), canonical)
				continue
			}
			return nil, nil, dErrors.Wrap(err, dErrors.CodeMigrationFailed,
				fmt.Sprintf("document %s is missing from storage", slot))
		}
		plan = append(plan, plannedCopy{slot: slot, origin: stored, src: src, dest: dest, name: canonical})
	}

	records := make([]models.MigrationRecord, 0, len(plan))
	done := make([]plannedCopy, 0, len(plan))
	for _, c := range plan {
		if err := ctx.Err(); err != nil {
			m.undo(ctx, done)
			return nil, nil, dErrors.Wrap(err, dErrors.CodeMigrationFailed, "migration aborted")
		}
		previous, err := m.setAside(c.dest, c.name)
		if err != nil {
			m.undo(ctx, done)
			return nil, nil, dErrors.Wrap(err, dErrors.CodeMigrationFailed,
				fmt.Sprintf("could not migrate document %s", c.slot))
		}
		c.previous = previous
		if err := copyVerified(c.src, c.dest); err != nil {
			m.undo(ctx, append(done, c))
			m.logger.ErrorContext(ctx, "document migration failed; copies removed",
				"national_id", app.NationalID.String(), "slot", string(c.slot), "error", err)
			return nil, nil, dErrors.Wrap(err, dErrors.CodeMigrationFailed,
				fmt.Sprintf("could not migrate document %s", c.slot))
		}
		done = append(done, c)
		destStored := path.Join(string(TierPermanent), c.name)
		result[c.slot] = destStored
		rec := models.MigrationRecord{Slot: c.slot, Origin: c.origin, Destination: destStored}
		if previous != "" {
			rec.Previous = path.Join(string(TierPermanent), filepath.Base(previous))
		}
		records = append(records, rec)
	}

	for _, c := range plan {
		if err := os.Remove(c.src); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.WarnContext(ctx, "migrated document source left behind",
				"national_id", app.NationalID.String(), "slot", string(c.slot), "path", c.origin, "error", err)
		}
	}
	return result, records, nil
}

// Rollback moves migrated documents back to their origins and restores any
// permanent document they displaced. It is best effort: every record is
// attempted and the failures are joined.
func (m *Migrator) Rollback(ctx context.Context, records []models.MigrationRecord) error {
	var errs []error
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if err := m.rollbackOne(rec); err != nil {
			m.logger.ErrorContext(ctx, "migration rollback failed",
				"slot", string(rec.Slot), "origin", rec.Origin, "destination", rec.Destination, "error", err)
			errs = append(errs, fmt.Errorf("roll back %s: %w", rec.Slot, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Migrator) rollbackOne(rec models.MigrationRecord) error {
	origin, err := m.Resolve(rec.Origin)
	if err != nil {
		return err
	}
	dest, err := m.Resolve(rec.Destination)
	if err != nil {
		return err
	}
	if _, err := os.Stat(origin); errors.Is(err, fs.ErrNotExist) {
		if err := copyVerified(dest, origin); err != nil {
			return err
		}
	}
	if rec.Previous != "" {
		previous, err := m.Resolve(rec.Previous)
		if err != nil {
			return err
		}
		return os.Rename(previous, dest)
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Release drops the permanent documents set aside by a migration once the
// commit that uses the new copies is durable.
func (m *Migrator) Release(ctx context.Context, records []models.MigrationRecord) {
	for _, rec := range records {
		if rec.Previous == "" {
			continue
		}
		previous, err := m.Resolve(rec.Previous)
		if err == nil {
			err = os.Remove(previous)
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.WarnContext(ctx, "replaced permanent document left behind",
				"slot", string(rec.Slot), "path", rec.Previous, "error", err)
		}
	}
}

// setAside renames an existing file at dest out of the way and returns its
// new location, or "" when dest does not exist.
func (m *Migrator) setAside(dest, name string) (string, error) {
	info, err := os.Lstat(dest)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat destination: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("destination %s is not a regular file", name)
	}
	previous := m.abs(TierPermanent, previousPrefix+name)
	if err := os.Rename(dest, previous); err != nil {
		return "", fmt.Errorf("set aside %s: %w", name, err)
	}
	return previous, nil
}

// undo reverses the copies in done, newest first: the written destination is
// removed and a set-aside document takes its place again.
func (m *Migrator) undo(ctx context.Context, done []plannedCopy) {
	for i := len(done) - 1; i >= 0; i-- {
		c := done[i]
		if err := os.Remove(c.dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.ErrorContext(ctx, "could not remove partial migration copy", "path", c.dest, "error", err)
		}
		if c.previous == "" {
			continue
		}
		if err := os.Rename(c.previous, c.dest); err != nil {
			m.logger.ErrorContext(ctx, "could not restore replaced permanent document",
				"path", c.dest, "error", err)
		}
	}
}

// StoreUpload stages an uploaded document in a non-terminal tier and returns
// the staged path. Staged files never replace a stored document until they
// are promoted, so a failed attempt can discard them.
func (m *Migrator) StoreUpload(ctx context.Context, tier Tier, app *models.PendingApplication, slot models.Slot, ext string, r io.Reader) (string, error) {
	if tier.IsTerminal() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "uploads cannot target the permanent tier")
	}
	if _, ok := ParseTier(string(tier)); !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown tier "+string(tier))
	}
	name := stagedPrefix + CanonicalName(app, slot, ext)
	dest := m.abs(tier, name)

	n, err := writeAtomic(dest, r)
	if err != nil {
		return "", fmt.Errorf("store upload %s: %w", slot, err)
	}
	if n == 0 {
		_ = os.Remove(dest)
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("uploaded document %s is empty", slot))
	}
	m.logger.InfoContext(ctx, "document staged",
		"national_id", app.NationalID.String(), "slot", string(slot), "tier", string(tier), "bytes", n)
	return path.Join(string(tier), name), nil
}

// Promote renames every staged entry of files to its canonical name, replacing
// the document previously stored there, and returns the updated map. Staged
// entries whose file is gone (migrated in the meantime) are left as they are.
func (m *Migrator) Promote(ctx context.Context, files models.FileMap) (models.FileMap, error) {
	out := make(models.FileMap, len(files))
	for slot, stored := range files {
		out[slot] = stored
		tier, name, err := splitStored(stored)
		if err != nil || tier.IsTerminal() || !strings.HasPrefix(name, stagedPrefix) {
			continue
		}
		canonical := strings.TrimPrefix(name, stagedPrefix)
		err = os.Rename(m.abs(tier, name), m.abs(tier, canonical))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("promote %s: %w", slot, err)
		}
		out[slot] = path.Join(string(tier), canonical)
	}
	return out, nil
}

// Discard removes staged uploads that were not promoted.
func (m *Migrator) Discard(ctx context.Context, staged []string) {
	for _, stored := range staged {
		tier, name, err := splitStored(stored)
		if err != nil || tier.IsTerminal() || !strings.HasPrefix(name, stagedPrefix) {
			continue
		}
		if err := os.Remove(m.abs(tier, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.WarnContext(ctx, "staged upload left behind", "path", stored, "error", err)
		}
	}
}

// copyVerified copies src to dest and checks the copy is non-empty and the
// same size as the source.
func copyVerified(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("source %s is not a regular file", filepath.Base(src))
	}
	if info.Size() == 0 {
		return fmt.Errorf("source %s is empty", filepath.Base(src))
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	if _, err := writeAtomic(dest, in); err != nil {
		return err
	}

	copied, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("verify copy: %w", err)
	}
	if copied.Size() != info.Size() {
		return fmt.Errorf("verify copy: size %d, want %d", copied.Size(), info.Size())
	}
	return nil
}

// writeAtomic streams r into a temp file next to dest, fsyncs it and renames
// it into place.
func writeAtomic(dest string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".incoming-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("write %s: %w", filepath.Base(dest), err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("rename into %s: %w", filepath.Base(dest), err)
	}
	return n, nil
}

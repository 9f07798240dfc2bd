// Package doctor runs ordered environment checks and reports what is
// broken together with how to fix it. Checks are ordered by dependency:
// a missing key makes every later check meaningless, so later checks are
// skipped rather than reported as spurious failures.
package doctor

import (
	"context"
	"errors"
	"fmt"

	"dockhand/internal/store"
)

// Status is the outcome of a single check.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFail    Status = "fail"
	StatusSkipped Status = "skipped"
)

// Check is one diagnostic result.
type Check struct {
	Name   string
	Status Status
	Detail string
	Remedy string
}

// Report is the ordered outcome of a doctor run.
type Report struct {
	Checks []Check
}

// Healthy reports whether every check passed.
func (r *Report) Healthy() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return false
		}
	}
	return true
}

// Inspector is the read-only store surface doctor needs.
type Inspector interface {
	SchemaVersion() (int, error)
	Close() error
}

// RuntimePinger is the read-only engine surface doctor needs: whether
// the engine answers, and which managed containers it is holding.
type RuntimePinger interface {
	IsRunning() bool
	ListManaged(ctx context.Context) ([]string, error)
}

// Doctor runs the checks. The function fields default to the real
// implementations and exist so tests can substitute failures.
type Doctor struct {
	Root    string
	Runtime RuntimePinger

	LoadKey   func(root string) (string, error)
	OpenStore func(root, keyMaterial string) (Inspector, error)
}

// New creates a doctor for the given state root and runtime.
func New(root string, runtime RuntimePinger) *Doctor {
	return &Doctor{
		Root:    root,
		Runtime: runtime,
		LoadKey: store.LoadKeyMaterial,
		OpenStore: func(root, keyMaterial string) (Inspector, error) {
			return store.OpenForInspection(root, keyMaterial)
		},
	}
}

// Run executes all checks in dependency order.
func (d *Doctor) Run() *Report {
	report := &Report{}

	key, ok := d.checkKey(report)
	if !ok {
		d.skip(report, "encrypted store", "container runtime", "schema version")
		return report
	}

	inspector, ok := d.checkStore(report, key)
	if !ok {
		d.skip(report, "container runtime", "schema version")
		return report
	}
	defer func() { _ = inspector.Close() }()

	if !d.checkRuntime(report) {
		d.skip(report, "schema version")
		return report
	}

	d.checkSchema(report, inspector)
	return report
}

func (d *Doctor) checkKey(report *Report) (string, bool) {
	key, err := d.LoadKey(d.Root)
	if err != nil {
		report.Checks = append(report.Checks, Check{
			Name:   "database key",
			Status: StatusFail,
			Detail: err.Error(),
			Remedy: fmt.Sprintf("run: dockhand init (expected key at %s), or set DOCKHAND_DB_KEY", store.KeyPath(d.Root)),
		})
		return "", false
	}
	report.Checks = append(report.Checks, Check{
		Name:   "database key",
		Status: StatusOK,
		Detail: fmt.Sprintf("key material loaded for %s", store.DBPath(d.Root)),
	})
	return key, true
}

func (d *Doctor) checkStore(report *Report, key string) (Inspector, bool) {
	inspector, err := d.OpenStore(d.Root, key)
	if err != nil {
		check := Check{
			Name:   "encrypted store",
			Status: StatusFail,
			Detail: err.Error(),
		}
		if errors.Is(err, store.ErrKeyInvalid) {
			check.Remedy = "the key does not match the database; restore the original db.key"
		} else {
			check.Remedy = fmt.Sprintf("inspect %s for corruption or permission problems", store.DBPath(d.Root))
		}
		report.Checks = append(report.Checks, check)
		return nil, false
	}
	report.Checks = append(report.Checks, Check{
		Name:   "encrypted store",
		Status: StatusOK,
		Detail: "database opens and decrypts",
	})
	return inspector, true
}

func (d *Doctor) checkSchema(report *Report, inspector Inspector) bool {
	version, err := inspector.SchemaVersion()
	if err != nil {
		report.Checks = append(report.Checks, Check{
			Name:   "schema version",
			Status: StatusFail,
			Detail: err.Error(),
		})
		return false
	}

	current := store.CurrentSchemaVersion()
	if version > current {
		report.Checks = append(report.Checks, Check{
			Name:   "schema version",
			Status: StatusFail,
			Detail: fmt.Sprintf("database schema v%d is newer than this binary supports (v%d)", version, current),
			Remedy: "upgrade dockhand to a release that understands this schema",
		})
		return false
	}

	detail := fmt.Sprintf("schema v%d", version)
	if version < current {
		detail += fmt.Sprintf(" (migrations to v%d pending, applied on next start)", current)
	}
	report.Checks = append(report.Checks, Check{
		Name:   "schema version",
		Status: StatusOK,
		Detail: detail,
	})
	return true
}

func (d *Doctor) checkRuntime(report *Report) bool {
	if d.Runtime == nil || !d.Runtime.IsRunning() {
		report.Checks = append(report.Checks, Check{
			Name:   "container runtime",
			Status: StatusFail,
			Detail: "no container engine answered",
			Remedy: "start the Docker or Podman daemon, or set runtime in the configuration",
		})
		return false
	}

	managed, err := d.Runtime.ListManaged(context.Background())
	if err != nil {
		report.Checks = append(report.Checks, Check{
			Name:   "container runtime",
			Status: StatusFail,
			Detail: fmt.Sprintf("engine answered but listing containers failed: %v", err),
			Remedy: "check the engine logs; the daemon may be shutting down",
		})
		return false
	}
	report.Checks = append(report.Checks, Check{
		Name:   "container runtime",
		Status: StatusOK,
		Detail: fmt.Sprintf("engine reachable, %d managed container(s)", len(managed)),
	})
	return true
}

func (d *Doctor) skip(report *Report, names ...string) {
	for _, name := range names {
		report.Checks = append(report.Checks, Check{
			Name:   name,
			Status: StatusSkipped,
			Detail: "not checked after earlier failure",
		})
	}
}

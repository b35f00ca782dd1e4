// Package run defines the central Run entity and its derived naming
// conventions.
package run

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ID is an opaque 32-character hex run identifier: a UUIDv4 with its
// dashes removed. Never reused.
type ID string

// NewID generates a fresh, globally unique run ID.
func NewID() ID {
	return ID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (id ID) String() string { return string(id) }

// CacheSpec describes an optional per-user persistent cache mount.
type CacheSpec struct {
	HostDir   string
	MountPath string
}

// DBPrincipal is an ephemeral database user valid only for a run's
// lifetime.
type DBPrincipal struct {
	User     string
	Password string
}

// Run is the unit of one verified push producing one container execution.
type Run struct {
	ID           ID
	UserID       string // external-identity-provider subject
	Deadline     time.Time
	SourceURL    string
	GPU          bool
	Cache        *CacheSpec
	DBPrincipal  DBPrincipal
	CreatedAt    time.Time
}

// Namespace is the deterministic cluster namespace name for this run.
func (r Run) Namespace() string { return Namespace(r.ID) }

// Namespace derives the managed-namespace name for a run ID.
func Namespace(id ID) string { return fmt.Sprintf("secd-%s", id) }

// IDFromNamespace strips the managed-namespace prefix back to a run ID.
// ok is false if name does not carry the prefix.
func IDFromNamespace(name string) (ID, bool) {
	const prefix = "secd-"
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	return ID(strings.TrimPrefix(name, prefix)), true
}

// ImageRef derives the tagged registry reference for a run's image.
func ImageRef(registry, project string, id ID) string {
	return fmt.Sprintf("%s/%s/%s", registry, project, id)
}

// RepoWorkdir derives the local clone path for a run.
func RepoWorkdir(repoPath string, id ID) string {
	return fmt.Sprintf("%s/%s", repoPath, id)
}

// OutputSubdir derives the per-run output directory, relative to the
// run's working directory, named with the run's creation timestamp.
func OutputSubdir(workdir string, id ID, createdAt time.Time) string {
	return fmt.Sprintf("%s/outputs/%s-%s", workdir, createdAt.UTC().Format("2006-01-02_15-04-05"), id)
}

// PVName derives the persistent-volume name for a run's output or cache
// volume.
func PVName(id ID, kind string) string {
	return fmt.Sprintf("secd-%s-%s", id, kind)
}

// PVCName derives the claim name for a run's output or cache volume.
func PVCName(id ID, kind string) string {
	return fmt.Sprintf("secd-pvc-%s-%s", id, kind)
}

// PodName derives the pod name for a run.
func PodName(id ID) string { return fmt.Sprintf("secd-%s", id) }

// Annotation keys carried on the managed namespace.
const (
	AnnotationUserID   = "userid"
	AnnotationRunUntil = "rununtil"
)

// OutputBranchName derives the result-publication branch name for a run,
// named with the publication timestamp.
func OutputBranchName(id ID, at time.Time) string {
	return fmt.Sprintf("outputs-%s-%s", at.UTC().Format("2006-01-02T15-04-05"), id)
}

package api

import (
	"context"
	"net/http"

	"github.com/ignite/formbridge/internal/codegen"
	"github.com/ignite/formbridge/internal/pkg/httputil"
	"github.com/ignite/formbridge/internal/pkg/logger"
	"github.com/ignite/formbridge/internal/registry"
	"github.com/ignite/formbridge/internal/storage"
)

// ArtifactStore persists generated bridge packages.
type ArtifactStore interface {
	Save(ctx context.Context, formID string, files map[string]string, manifest interface{}) (storage.Artifact, error)
	Latest(ctx context.Context, formID string) (storage.Artifact, error)
	ReadFile(ctx context.Context, art storage.Artifact, name string) ([]byte, error)
	Versions(ctx context.Context, formID string) ([]string, error)
}

// Handlers contains the HTTP handlers for the bridge service.
type Handlers struct {
	generator *codegen.Generator
	store     ArtifactStore
	registry  *registry.Registry
	log       *logger.Logger

	defaultTimeoutMS int
}

// NewHandlers creates a new Handlers instance. store may be nil, in which
// case generated packages are returned but not persisted.
func NewHandlers(gen *codegen.Generator, store ArtifactStore, reg *registry.Registry) *Handlers {
	if reg == nil {
		reg = registry.New()
	}
	return &Handlers{
		generator: gen,
		store:     store,
		registry:  reg,
		log:       logger.Named("api"),
	}
}

// SetDefaultTimeout sets the primary sink timeout used when a request does
// not override it.
func (h *Handlers) SetDefaultTimeout(ms int) {
	h.defaultTimeoutMS = ms
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	httputil.JSON(w, status, data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	httputil.Error(w, status, message)
}

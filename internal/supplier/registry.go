// Package supplier manages the model supplier registry: a pluggable set of
// providers (the managed local runtime plus arbitrary OpenAI-compatible
// endpoints) with per-supplier credentials, model catalogs, and enable
// flags. State lives at suppliers/<name>.json; the registry keeps an
// in-memory cache invalidated on every write.
package supplier

import (
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/linguo5/AingDesk/internal/errs"
	"github.com/linguo5/AingDesk/internal/objstore"
	"github.com/linguo5/AingDesk/pkg/models"
	"github.com/rs/zerolog/log"
)

const suppliersDir = "suppliers"

// Registry is the supplier registry. One mutex guards everything;
// operations are short.
type Registry struct {
	mu     sync.Mutex
	store  *objstore.Store
	cache  map[string]*models.Supplier
	loaded bool
}

// NewRegistry creates a registry over the object store.
func NewRegistry(store *objstore.Store) *Registry {
	return &Registry{
		store: store,
		cache: make(map[string]*models.Supplier),
	}
}

// load fills the cache from disk. Callers hold r.mu.
func (r *Registry) load() error {
	if r.loaded {
		return nil
	}
	names, err := r.store.List(suppliersDir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		var s models.Supplier
		ok, err := r.store.Read(suppliersDir+"/"+name, &s)
		if err != nil {
			return err
		}
		if ok && s.Name != "" {
			r.cache[s.Name] = &s
		}
	}
	r.loaded = true
	return nil
}

func (r *Registry) persist(s *models.Supplier) error {
	if err := r.store.Write(suppliersDir+"/"+s.Name+".json", s); err != nil {
		return err
	}
	cp := *s
	r.cache[s.Name] = &cp
	return nil
}

// ── Supplier CRUD ───────────────────────────────────────────

// ListSuppliers returns all suppliers sorted by name, local first.
func (r *Registry) ListSuppliers() ([]models.Supplier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return nil, err
	}
	out := make([]models.Supplier, 0, len(r.cache))
	for _, s := range r.cache {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Name == models.LocalSupplierName) != (out[j].Name == models.LocalSupplierName) {
			return out[i].Name == models.LocalSupplierName
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

const nameAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomName() string {
	b := make([]byte, 10)
	for i := range b {
		b[i] = nameAlphabet[rand.Intn(len(nameAlphabet))]
	}
	return string(b)
}

// AddSupplier registers a new supplier. An empty name gets a random
// 10-character alphanumeric one; uniqueness is enforced by retry.
func (r *Registry) AddSupplier(cfg models.Supplier) (*models.Supplier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return nil, err
	}

	if cfg.Name == "" {
		for {
			cfg.Name = randomName()
			if _, exists := r.cache[cfg.Name]; !exists {
				break
			}
		}
	} else if _, exists := r.cache[cfg.Name]; exists {
		return nil, errs.New(errs.Conflict, "supplier %q already exists", cfg.Name)
	}
	if cfg.Name == models.LocalSupplierName && len(r.cache) > 0 {
		if _, exists := r.cache[models.LocalSupplierName]; exists {
			return nil, errs.New(errs.Conflict, "local supplier already exists")
		}
	}
	if cfg.Title == "" {
		cfg.Title = cfg.Name
	}
	cfg.Enabled = true

	if err := r.persist(&cfg); err != nil {
		return nil, err
	}
	log.Info().Str("supplier", cfg.Name).Msg("Supplier added")
	return &cfg, nil
}

// RemoveSupplier deletes a supplier and its model catalog. Conversation
// history referencing it is never touched. The local supplier cannot be
// removed.
func (r *Registry) RemoveSupplier(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return err
	}
	if name == models.LocalSupplierName {
		return errs.New(errs.Conflict, "the local supplier cannot be removed")
	}
	if _, ok := r.cache[name]; !ok {
		return errs.New(errs.NotFound, "supplier %q not found", name)
	}
	if err := r.store.Remove(suppliersDir + "/" + name + ".json"); err != nil {
		return err
	}
	delete(r.cache, name)
	log.Info().Str("supplier", name).Msg("Supplier removed")
	return nil
}

// SetSupplierStatus flips a supplier's enabled flag.
func (r *Registry) SetSupplierStatus(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(name)
	if err != nil {
		return err
	}
	s.Enabled = enabled
	return r.persist(s)
}

// GetSupplierConfig returns a supplier by name.
func (r *Registry) GetSupplierConfig(name string) (*models.Supplier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(name)
	if err != nil {
		return nil, err
	}
	cp := *s
	return &cp, nil
}

// SetSupplierConfig updates endpoint, credentials, and display metadata.
func (r *Registry) SetSupplierConfig(name string, cfg models.Supplier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(name)
	if err != nil {
		return err
	}
	if cfg.BaseURL != "" {
		s.BaseURL = cfg.BaseURL
	}
	if cfg.APIKey != "" {
		s.APIKey = cfg.APIKey
	}
	if cfg.Title != "" {
		s.Title = cfg.Title
	}
	if cfg.HomeURL != "" {
		s.HomeURL = cfg.HomeURL
	}
	return r.persist(s)
}

// get resolves a cached supplier. Callers hold r.mu.
func (r *Registry) get(name string) (*models.Supplier, error) {
	if err := r.load(); err != nil {
		return nil, err
	}
	s, ok := r.cache[name]
	if !ok {
		return nil, errs.New(errs.NotFound, "supplier %q not found", name)
	}
	return s, nil
}

// ── Model catalog ───────────────────────────────────────────

// ListModels returns a supplier's model catalog.
func (r *Registry) ListModels(supplierName string) ([]models.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(supplierName)
	if err != nil {
		return nil, err
	}
	out := make([]models.Model, len(s.Models))
	copy(out, s.Models)
	return out, nil
}

func modelKey(name, parameters string) string { return name + ":" + parameters }

// AddModel appends a model to a supplier's catalog.
func (r *Registry) AddModel(supplierName string, m models.Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(supplierName)
	if err != nil {
		return err
	}
	for _, existing := range s.Models {
		if modelKey(existing.Name, existing.Parameters) == modelKey(m.Name, m.Parameters) {
			return errs.New(errs.Conflict, "model %q already exists for supplier %q", m.Name, supplierName)
		}
	}
	if m.Title == "" {
		m.Title = m.Name
	}
	if len(m.Capabilities) == 0 {
		m.Capabilities = []string{models.CapChat}
	}
	m.Enabled = true
	s.Models = append(s.Models, m)
	return r.persist(s)
}

// RemoveModel deletes a model from a supplier's catalog.
func (r *Registry) RemoveModel(supplierName, name, parameters string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(supplierName)
	if err != nil {
		return err
	}
	for i, m := range s.Models {
		if modelKey(m.Name, m.Parameters) == modelKey(name, parameters) {
			s.Models = append(s.Models[:i], s.Models[i+1:]...)
			return r.persist(s)
		}
	}
	return errs.New(errs.NotFound, "model %q not found for supplier %q", name, supplierName)
}

// SetModelStatus flips a model's enabled flag.
func (r *Registry) SetModelStatus(supplierName, name, parameters string, enabled bool) error {
	return r.updateModel(supplierName, name, parameters, func(m *models.Model) {
		m.Enabled = enabled
	})
}

// SetModelTitle updates a model's display title.
func (r *Registry) SetModelTitle(supplierName, name, parameters, title string) error {
	return r.updateModel(supplierName, name, parameters, func(m *models.Model) {
		m.Title = title
	})
}

func (r *Registry) updateModel(supplierName, name, parameters string, fn func(*models.Model)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(supplierName)
	if err != nil {
		return err
	}
	for i := range s.Models {
		if modelKey(s.Models[i].Name, s.Models[i].Parameters) == modelKey(name, parameters) {
			fn(&s.Models[i])
			return r.persist(s)
		}
	}
	return errs.New(errs.NotFound, "model %q not found for supplier %q", name, supplierName)
}

// ListEmbeddingModels flattens embedding-capable models across all enabled
// suppliers.
func (r *Registry) ListEmbeddingModels() ([]models.EmbeddingModelRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return nil, err
	}
	var out []models.EmbeddingModelRef
	for _, s := range r.cache {
		if !s.Enabled {
			continue
		}
		for _, m := range s.Models {
			if m.Enabled && m.HasCapability(models.CapEmbedding) {
				out = append(out, models.EmbeddingModelRef{
					SupplierName: s.Name,
					Model:        m.Name,
					Title:        m.Title,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SupplierName != out[j].SupplierName {
			return out[i].SupplierName < out[j].SupplierName
		}
		return out[i].Model < out[j].Model
	})
	return out, nil
}

// ── Resolution & local mirror ───────────────────────────────

// ResolveChatModel verifies a (supplier, model) pair exists and both sides
// are enabled, returning the supplier for transport construction.
func (r *Registry) ResolveChatModel(supplierName, model string) (*models.Supplier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(supplierName)
	if err != nil {
		return nil, err
	}
	if !s.Enabled {
		return nil, errs.New(errs.Conflict, "supplier %q is disabled", supplierName)
	}
	for _, m := range s.Models {
		if m.Name == model {
			if !m.Enabled {
				return nil, errs.New(errs.Conflict, "model %q is disabled", model)
			}
			cp := *s
			return &cp, nil
		}
	}
	return nil, errs.New(errs.NotFound, "model %q not found for supplier %q", model, supplierName)
}

// EnsureLocal seeds the local supplier pointing at the managed runtime. It
// is idempotent; an existing local supplier only has its endpoint refreshed.
func (r *Registry) EnsureLocal(baseURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.load(); err != nil {
		return err
	}
	if s, ok := r.cache[models.LocalSupplierName]; ok {
		if s.BaseURL != baseURL {
			s.BaseURL = baseURL
			return r.persist(s)
		}
		return nil
	}
	local := &models.Supplier{
		Name:    models.LocalSupplierName,
		Title:   "Local models",
		BaseURL: baseURL,
		Enabled: true,
	}
	if err := r.persist(local); err != nil {
		return err
	}
	log.Info().Str("endpoint", baseURL).Msg("Local supplier seeded")
	return nil
}

// SyncLocalModels replaces the local supplier's model list with the
// installed artifacts reported by the runtime, preserving enable flags and
// titles of models that survive the sync.
func (r *Registry) SyncLocalModels(installed []models.Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.get(models.LocalSupplierName)
	if err != nil {
		return err
	}
	prev := make(map[string]models.Model, len(s.Models))
	for _, m := range s.Models {
		prev[modelKey(m.Name, m.Parameters)] = m
	}
	next := make([]models.Model, 0, len(installed))
	for _, m := range installed {
		if old, ok := prev[modelKey(m.Name, m.Parameters)]; ok {
			m.Enabled = old.Enabled
			if old.Title != "" {
				m.Title = old.Title
			}
		} else {
			m.Enabled = true
			if m.Title == "" {
				m.Title = m.Name
			}
		}
		if len(m.Capabilities) == 0 {
			m.Capabilities = []string{models.CapChat}
		}
		next = append(next, m)
	}
	s.Models = next
	return r.persist(s)
}
